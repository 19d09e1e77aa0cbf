package server

import (
	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/internal/module"
	"github.com/jfreymuth/pulsed/proto"
)

func (c *Client) loadModule(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.LoadModule
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "name": req.Name, "args": req.Args}).Info("load module")
	if !c.s.cfg.AllowModuleLoading {
		return proto.ErrAccessDenied
	}
	if req.Name == "" {
		return proto.ErrInvalidArgument
	}
	c.s.loadModule(req.Name, req.Args, func(m *module.Module, err error) {
		if c.disconnected {
			return
		}
		if err != nil {
			c.log.WithError(err).WithField("name", req.Name).Warn("load module failed")
			c.replyError(op, tag, err)
			return
		}
		// reply once the objects created by the module are visible to this
		// client
		c.newOperation(tag, func() {
			c.reply(tag, &proto.LoadModuleReply{ModuleIndex: m.Index})
		})
	})
	return errDeferred
}

func (c *Client) unloadModule(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.UnloadModule
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "index": req.ModuleIndex}).Info("unload module")
	if req.ModuleIndex == proto.Undefined {
		return proto.ErrInvalidArgument
	}
	if req.ModuleIndex&module.Flag == 0 {
		// modules of the graph can not be unloaded by clients
		return proto.ErrAccessDenied
	}
	m := c.s.findModule(req.ModuleIndex, "")
	if m == nil {
		return proto.ErrNoSuchEntity
	}
	if err := c.s.UnloadModule(m); err != nil {
		c.log.WithError(err).WithField("module", m.Name()).Warn("unload module")
	}
	return c.newOperation(tag, nil)
}

func (c *Client) extension(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	cmd := r.U32()
	if err := r.Err(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "index": index, "name": name, "command": cmd}).Info("extension")
	m := c.s.findModule(index, name)
	if m == nil {
		return proto.ErrNoSuchExtension
	}
	sub := m.Subcommand(cmd)
	if sub == nil {
		return proto.ErrNotSupported
	}
	m.Log.WithFields(logrus.Fields{"client": c.name, "tag": tag, "subcommand": sub.Name}).Debug("extension command")
	return sub.Run(m, c, tag, r)
}
