package server

import (
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/proto"
)

func (c *Client) auth(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.Auth
	if err := c.parse(r, &req); err != nil {
		return err
	}
	if req.Version.Version() < proto.MinimumVersion.Version() {
		return proto.ErrProtocolError
	}
	if len(req.Cookie) != proto.CookieLength {
		return proto.ErrInvalidArgument
	}
	c.version = proto.Negotiate(req.Version)
	c.authenticated = true
	c.log.WithFields(logrus.Fields{"tag": tag, "version": c.version.Version()}).Info("auth")
	c.reply(tag, &proto.AuthReply{Version: proto.ProtocolVersion})
	return nil
}

func (c *Client) setClientName(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.SetClientName
	if err := c.parse(r, &req); err != nil {
		return err
	}
	changed := false
	if c.version < 13 {
		if req.Name != "" && c.props["application.name"] != req.Name {
			c.props["application.name"] = req.Name
			changed = true
		}
	} else {
		for k, v := range req.Props {
			c.props[k] = v
		}
		changed = true
	}
	c.quirks = parseQuirks(c.props["pulse.quirks"])
	c.name = c.props["application.name"]
	c.log = c.log.WithField("client", c.name)
	c.log.WithField("tag", tag).Info("set client name")

	if c.core == nil {
		if err := c.connectGraph(); err != nil {
			c.log.WithError(err).Error("cannot connect client to graph")
			return err
		}
		// answered on the first manager barrier
		c.connectTag = tag
		c.mgr.Sync()
		return errDeferred
	}
	if changed {
		if err := c.core.UpdateProperties(c.props.Copy()); err != nil {
			return err
		}
	}
	if c.connectTag == proto.Undefined {
		c.replyClientName(tag)
	}
	return nil
}

func (c *Client) replyClientName(tag uint32) {
	index := collect.IDToIndex(c.mgr, c.core.ClientID())
	c.log.WithFields(logrus.Fields{"tag": tag, "index": index}).Info("client name reply")
	if c.version < 13 {
		c.ack(tag)
		return
	}
	c.reply(tag, &proto.SetClientNameReply{ClientIndex: index})
}

func (c *Client) subscribe(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.Subscribe
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "mask": req.Mask}).Info("subscribe")
	if req.Mask&^proto.SubscriptionMaskAll != 0 {
		return proto.ErrInvalidArgument
	}
	c.subscribed = req.Mask
	c.ack(tag)
	return nil
}

func (c *Client) stat(op, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	st := c.s.pool.Stats()
	c.reply(tag, &proto.StatReply{
		NumAllocated:    st.NumAllocated,
		AllocatedSize:   st.AllocatedSize,
		NumAccumulated:  st.NumAccumulated,
		AccumulatedSize: st.AccumulatedSize,
		SampleCacheSize: c.s.samples.size(),
	})
	return nil
}

func (c *Client) getServerInfo(op, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	info := c.s.core.Info()
	reply := &proto.GetServerInfoReply{
		PackageName:       "PulseAudio (on " + serverName + " " + info.Version + ")",
		PackageVersion:    packageVersion,
		Username:          info.UserName,
		Hostname:          info.HostName,
		DefaultSampleSpec: c.s.defaults.SampleSpec,
		DefaultChannelMap: c.s.defaults.ChannelMap,
		Cookie:            info.Cookie,
	}
	if c.mgr != nil {
		reply.DefaultSinkName = c.defaultName(true)
		reply.DefaultSourceName = c.defaultName(false)
	}
	c.reply(tag, reply)
	return nil
}
