package server

import (
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

func (c *Client) updateProplist(op, tag uint32, r *proto.ProtocolReader) error {
	channel := uint32(proto.Undefined)
	if op != proto.OpUpdateClientProplist {
		channel = r.U32()
	}
	mode := r.U32()
	update := r.PropList()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "channel": channel, "mode": mode}).Info("update proplist")
	if mode > proto.UpdateReplace {
		return proto.ErrInvalidArgument
	}

	if op == proto.OpUpdateClientProplist {
		changed := updateProps(c.props, mode, update)
		if len(changed) > 0 {
			c.quirks = parseQuirks(c.props["pulse.quirks"])
			c.name = c.props["application.name"]
			if err := c.core.UpdateProperties(changed); err != nil {
				return err
			}
		}
		c.ack(tag)
		return nil
	}

	s, err := c.findStream(channel, streamKind(op))
	if err != nil {
		return err
	}
	if changed := updateProps(s.props, mode, update); len(changed) > 0 {
		if err := s.st.Graph().UpdateProperties(changed); err != nil {
			return err
		}
	}
	c.ack(tag)
	return nil
}

// readKeys reads a list of property keys terminated by a null string.
func readKeys(r *proto.ProtocolReader) []string {
	var keys []string
	for {
		k, ok := r.NullableString()
		if !ok {
			return keys
		}
		keys = append(keys, k)
	}
}

func (c *Client) removeProplist(op, tag uint32, r *proto.ProtocolReader) error {
	channel := uint32(proto.Undefined)
	if op != proto.OpRemoveClientProplist {
		channel = r.U32()
	}
	keys := readKeys(r)
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "channel": channel, "keys": keys}).Info("remove proplist")

	var props graph.Props
	var update func(graph.Props) error
	if op == proto.OpRemoveClientProplist {
		props, update = c.props, c.core.UpdateProperties
	} else {
		s, err := c.findStream(channel, streamKind(op))
		if err != nil {
			return err
		}
		props, update = s.props, s.st.Graph().UpdateProperties
	}
	if changed := removeProps(props, keys); len(changed) > 0 {
		if err := update(changed); err != nil {
			return err
		}
	}
	if op == proto.OpRemoveClientProplist {
		c.quirks = parseQuirks(c.props["pulse.quirks"])
	}
	c.ack(tag)
	return nil
}
