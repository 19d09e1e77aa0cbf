package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// messageHandler answers an object message. The returned string is sent
// as the response.
type messageHandler func(c *Client, o *manager.Object, message, params string) (string, error)

type handlerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handlerFor returns the handler for the message path of o.
func handlerFor(o *manager.Object) (messageHandler, string) {
	switch {
	case o.MessagePath == "/core":
		return coreMessage, "Core object"
	case strings.HasSuffix(o.MessagePath, "/bluez"):
		return bluezMessage, "Bluetooth device"
	}
	return nil, ""
}

func (c *Client) sendObjectMessage(op, tag uint32, r *proto.ProtocolReader) error {
	path, okPath := r.NullableString()
	message, okMessage := r.NullableString()
	params, _ := r.NullableString()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "path": path, "message": message, "params": params}).Info("send object message")
	if !okPath || !okMessage {
		return proto.ErrInvalidArgument
	}
	path = strings.TrimSuffix(path, "/")

	var target *manager.Object
	c.mgr.ForEach(func(o *manager.Object) bool {
		if o.MessagePath != "" && o.MessagePath == path {
			target = o
			return false
		}
		return true
	})
	if target == nil {
		return proto.ErrNoSuchEntity
	}
	h, _ := handlerFor(target)
	if h == nil {
		return proto.ErrMissingImplementation
	}
	resp, err := h(c, target, message, params)
	if err != nil {
		return err
	}
	c.log.WithField("response", resp).Debug("object message response")
	c.reply(tag, &proto.SendObjectMessageReply{Response: resp})
	return nil
}

func coreMessage(c *Client, o *manager.Object, message, params string) (string, error) {
	switch message {
	case "list-handlers":
		var list []handlerInfo
		c.mgr.ForEach(func(o *manager.Object) bool {
			if _, desc := handlerFor(o); desc != "" {
				list = append(list, handlerInfo{Name: o.MessagePath, Description: desc})
			}
			return true
		})
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		b, err := json.Marshal(list)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "pulsed:log-level":
		lvl, err := logrus.ParseLevel(strings.TrimSpace(params))
		if err != nil {
			return "", proto.ErrInvalidArgument
		}
		c.s.log.Logger.SetLevel(lvl)
		return "", nil
	case "pulsed:describe-module":
		info := c.s.registry.Lookup(strings.TrimSpace(params))
		if info == nil {
			return "", proto.ErrNoSuchEntity
		}
		b, err := json.Marshal(struct {
			Name       string            `json:"name"`
			Properties map[string]string `json:"properties"`
		}{info.Name, info.Properties})
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", proto.ErrMissingImplementation
}

// bluezMessage handles the codec messages of a bluetooth card. Responses
// use the brace delimited format of the message API.
func bluezMessage(c *Client, o *manager.Object, message, params string) (string, error) {
	switch message {
	case "list-codecs":
		var sb strings.Builder
		sb.WriteByte('{')
		for _, codec := range cardCodecs(o) {
			fmt.Fprintf(&sb, "{{%s}{%s}}", codec.Name, codec.Description)
		}
		sb.WriteByte('}')
		return sb.String(), nil
	case "get-codec":
		name := activeCodec(o)
		if name == "" {
			return "null", nil
		}
		return "{" + name + "}", nil
	case "switch-codec":
		name := strings.Trim(strings.TrimSpace(params), "{}\"")
		found := false
		for _, codec := range cardCodecs(o) {
			if codec.Name == name {
				found = true
			}
		}
		if !found {
			return "", proto.ErrInvalidArgument
		}
		if err := writable(o); err != nil {
			return "", err
		}
		p := graph.PropsParam{BluetoothCodec: name}
		if err := o.Proxy.SetParam(graph.ParamProps, graph.MarshalParam(p)); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", proto.ErrMissingImplementation
}

func cardCodecs(o *manager.Object) []graph.Codec {
	var codecs []graph.Codec
	for _, p := range o.ParamsByID(graph.ParamPropInfo) {
		obj, err := jason.NewObjectFromBytes(p.Blob)
		if err != nil {
			continue
		}
		list, err := obj.GetObjectArray("codecs")
		if err != nil {
			continue
		}
		for _, e := range list {
			name, _ := e.GetString("name")
			desc, _ := e.GetString("description")
			id, _ := e.GetInt64("id")
			codecs = append(codecs, graph.Codec{ID: int(id), Name: name, Description: desc})
		}
	}
	return codecs
}

func activeCodec(o *manager.Object) string {
	for _, p := range o.ParamsByID(graph.ParamProps) {
		obj, err := jason.NewObjectFromBytes(p.Blob)
		if err != nil {
			continue
		}
		if name, err := obj.GetString("bluetoothAudioCodec"); err == nil {
			return name
		}
	}
	return ""
}
