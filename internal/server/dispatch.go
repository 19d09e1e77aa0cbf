package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

// Access flags of a command.
const (
	withoutAuth = 1 << iota
	withoutManager
)

type command struct {
	run    func(c *Client, op, tag uint32, r *proto.ProtocolReader) error
	access int
}

// commands is indexed by command code. Codes without a handler are
// answered with ErrNotSupported.
var commands = [proto.OpMax]command{
	proto.OpCreatePlaybackStream: {run: (*Client).createPlaybackStream},
	proto.OpDeletePlaybackStream: {run: (*Client).deleteStream},
	proto.OpCreateRecordStream:   {run: (*Client).createRecordStream},
	proto.OpDeleteRecordStream:   {run: (*Client).deleteStream},
	proto.OpExit:                 {run: (*Client).accessDenied},
	proto.OpAuth:                 {run: (*Client).auth, access: withoutAuth | withoutManager},
	proto.OpSetClientName:        {run: (*Client).setClientName, access: withoutManager},
	proto.OpLookupSink:           {run: (*Client).lookup},
	proto.OpLookupSource:         {run: (*Client).lookup},
	proto.OpDrainPlaybackStream:  {run: (*Client).drainStream},
	proto.OpStat:                 {run: (*Client).stat, access: withoutManager},
	proto.OpGetPlaybackLatency:   {run: (*Client).getPlaybackLatency},
	proto.OpCreateUploadStream:   {run: (*Client).createUploadStream},
	proto.OpDeleteUploadStream:   {run: (*Client).deleteStream},
	proto.OpFinishUploadStream:   {run: (*Client).finishUploadStream},
	proto.OpPlaySample:           {run: (*Client).playSample},
	proto.OpRemoveSample:         {run: (*Client).removeSample},

	proto.OpGetServerInfo:       {run: (*Client).getServerInfo, access: withoutManager},
	proto.OpGetSinkInfo:         {run: (*Client).getInfo},
	proto.OpGetSourceInfo:       {run: (*Client).getInfo},
	proto.OpGetModuleInfo:       {run: (*Client).getInfo},
	proto.OpGetClientInfo:       {run: (*Client).getInfo},
	proto.OpGetSinkInputInfo:    {run: (*Client).getInfo},
	proto.OpGetSourceOutputInfo: {run: (*Client).getInfo},
	proto.OpGetSampleInfo:       {run: (*Client).getSampleInfo},
	proto.OpGetCardInfo:         {run: (*Client).getInfo},
	proto.OpSubscribe:           {run: (*Client).subscribe},

	proto.OpGetSinkInfoList:         {run: (*Client).getInfoList},
	proto.OpGetSourceInfoList:       {run: (*Client).getInfoList},
	proto.OpGetModuleInfoList:       {run: (*Client).getInfoList},
	proto.OpGetClientInfoList:       {run: (*Client).getInfoList},
	proto.OpGetSinkInputInfoList:    {run: (*Client).getInfoList},
	proto.OpGetSourceOutputInfoList: {run: (*Client).getInfoList},
	proto.OpGetSampleInfoList:       {run: (*Client).getSampleInfoList},
	proto.OpGetCardInfoList:         {run: (*Client).getInfoList},

	proto.OpSetSinkVolume:      {run: (*Client).setDeviceVolume},
	proto.OpSetSinkInputVolume: {run: (*Client).setStreamVolume},
	proto.OpSetSourceVolume:    {run: (*Client).setDeviceVolume},
	proto.OpSetSinkMute:        {run: (*Client).setDeviceMute},
	proto.OpSetSourceMute:      {run: (*Client).setDeviceMute},

	proto.OpCorkPlaybackStream:    {run: (*Client).corkStream},
	proto.OpFlushPlaybackStream:   {run: (*Client).flushStream},
	proto.OpTriggerPlaybackStream: {run: (*Client).flushStream},
	proto.OpPrebufPlaybackStream:  {run: (*Client).flushStream},

	proto.OpSetDefaultSink:   {run: (*Client).setDefault},
	proto.OpSetDefaultSource: {run: (*Client).setDefault},

	proto.OpSetPlaybackStreamName: {run: (*Client).setStreamName},
	proto.OpSetRecordStreamName:   {run: (*Client).setStreamName},

	proto.OpKillClient:       {run: (*Client).kill},
	proto.OpKillSinkInput:    {run: (*Client).kill},
	proto.OpKillSourceOutput: {run: (*Client).kill},

	proto.OpLoadModule:   {run: (*Client).loadModule},
	proto.OpUnloadModule: {run: (*Client).unloadModule},

	// autoload commands 53 to 56 are obsolete
	53: {run: (*Client).accessDenied},
	54: {run: (*Client).accessDenied},
	55: {run: (*Client).accessDenied},
	56: {run: (*Client).accessDenied},

	proto.OpGetRecordLatency:  {run: (*Client).getRecordLatency},
	proto.OpCorkRecordStream:  {run: (*Client).corkStream},
	proto.OpFlushRecordStream: {run: (*Client).flushStream},

	proto.OpMoveSinkInput:    {run: (*Client).moveStream},
	proto.OpMoveSourceOutput: {run: (*Client).moveStream},
	proto.OpSetSinkInputMute: {run: (*Client).setStreamMute},
	proto.OpSuspendSink:      {run: (*Client).suspend},
	proto.OpSuspendSource:    {run: (*Client).suspend},

	proto.OpSetPlaybackStreamBufferAttr:    {run: (*Client).setStreamBufferAttr},
	proto.OpSetRecordStreamBufferAttr:      {run: (*Client).setStreamBufferAttr},
	proto.OpUpdatePlaybackStreamSampleRate: {run: (*Client).updateStreamSampleRate},
	proto.OpUpdateRecordStreamSampleRate:   {run: (*Client).updateStreamSampleRate},

	proto.OpUpdateRecordStreamProplist:   {run: (*Client).updateProplist},
	proto.OpUpdatePlaybackStreamProplist: {run: (*Client).updateProplist},
	proto.OpUpdateClientProplist:         {run: (*Client).updateProplist},
	proto.OpRemoveRecordStreamProplist:   {run: (*Client).removeProplist},
	proto.OpRemovePlaybackStreamProplist: {run: (*Client).removeProplist},
	proto.OpRemoveClientProplist:         {run: (*Client).removeProplist},

	proto.OpExtension:      {run: (*Client).extension},
	proto.OpSetCardProfile: {run: (*Client).setCardProfile},

	proto.OpSetSinkPort:           {run: (*Client).setDevicePort},
	proto.OpSetSourcePort:         {run: (*Client).setDevicePort},
	proto.OpSetSourceOutputVolume: {run: (*Client).setStreamVolume},
	proto.OpSetSourceOutputMute:   {run: (*Client).setStreamMute},

	proto.OpSetPortLatencyOffset: {run: (*Client).setPortLatencyOffset},

	proto.OpEnableSRBChannel:   {run: (*Client).notImplemented},
	proto.OpDisableSRBChannel:  {run: (*Client).notImplemented},
	proto.OpRegisterMemfdShmid: {run: (*Client).notImplemented},

	proto.OpSendObjectMessage: {run: (*Client).sendObjectMessage},
}

var commandNames = [proto.OpMax]string{
	"ERROR", "TIMEOUT", "REPLY",
	"CREATE_PLAYBACK_STREAM", "DELETE_PLAYBACK_STREAM", "CREATE_RECORD_STREAM", "DELETE_RECORD_STREAM",
	"EXIT", "AUTH", "SET_CLIENT_NAME", "LOOKUP_SINK", "LOOKUP_SOURCE", "DRAIN_PLAYBACK_STREAM",
	"STAT", "GET_PLAYBACK_LATENCY", "CREATE_UPLOAD_STREAM", "DELETE_UPLOAD_STREAM",
	"FINISH_UPLOAD_STREAM", "PLAY_SAMPLE", "REMOVE_SAMPLE",
	"GET_SERVER_INFO", "GET_SINK_INFO", "GET_SINK_INFO_LIST", "GET_SOURCE_INFO", "GET_SOURCE_INFO_LIST",
	"GET_MODULE_INFO", "GET_MODULE_INFO_LIST", "GET_CLIENT_INFO", "GET_CLIENT_INFO_LIST",
	"GET_SINK_INPUT_INFO", "GET_SINK_INPUT_INFO_LIST", "GET_SOURCE_OUTPUT_INFO", "GET_SOURCE_OUTPUT_INFO_LIST",
	"GET_SAMPLE_INFO", "GET_SAMPLE_INFO_LIST", "SUBSCRIBE",
	"SET_SINK_VOLUME", "SET_SINK_INPUT_VOLUME", "SET_SOURCE_VOLUME", "SET_SINK_MUTE", "SET_SOURCE_MUTE",
	"CORK_PLAYBACK_STREAM", "FLUSH_PLAYBACK_STREAM", "TRIGGER_PLAYBACK_STREAM",
	"SET_DEFAULT_SINK", "SET_DEFAULT_SOURCE", "SET_PLAYBACK_STREAM_NAME", "SET_RECORD_STREAM_NAME",
	"KILL_CLIENT", "KILL_SINK_INPUT", "KILL_SOURCE_OUTPUT", "LOAD_MODULE", "UNLOAD_MODULE",
	"ADD_AUTOLOAD", "REMOVE_AUTOLOAD", "GET_AUTOLOAD_INFO", "GET_AUTOLOAD_INFO_LIST",
	"GET_RECORD_LATENCY", "CORK_RECORD_STREAM", "FLUSH_RECORD_STREAM", "PREBUF_PLAYBACK_STREAM",
	"REQUEST", "OVERFLOW", "UNDERFLOW", "PLAYBACK_STREAM_KILLED", "RECORD_STREAM_KILLED", "SUBSCRIBE_EVENT",
	"MOVE_SINK_INPUT", "MOVE_SOURCE_OUTPUT", "SET_SINK_INPUT_MUTE", "SUSPEND_SINK", "SUSPEND_SOURCE",
	"SET_PLAYBACK_STREAM_BUFFER_ATTR", "SET_RECORD_STREAM_BUFFER_ATTR",
	"UPDATE_PLAYBACK_STREAM_SAMPLE_RATE", "UPDATE_RECORD_STREAM_SAMPLE_RATE",
	"PLAYBACK_STREAM_SUSPENDED", "RECORD_STREAM_SUSPENDED", "PLAYBACK_STREAM_MOVED", "RECORD_STREAM_MOVED",
	"UPDATE_RECORD_STREAM_PROPLIST", "UPDATE_PLAYBACK_STREAM_PROPLIST", "UPDATE_CLIENT_PROPLIST",
	"REMOVE_RECORD_STREAM_PROPLIST", "REMOVE_PLAYBACK_STREAM_PROPLIST", "REMOVE_CLIENT_PROPLIST",
	"STARTED", "EXTENSION", "GET_CARD_INFO", "GET_CARD_INFO_LIST", "SET_CARD_PROFILE",
	"CLIENT_EVENT", "PLAYBACK_STREAM_EVENT", "RECORD_STREAM_EVENT",
	"PLAYBACK_BUFFER_ATTR_CHANGED", "RECORD_BUFFER_ATTR_CHANGED",
	"SET_SINK_PORT", "SET_SOURCE_PORT", "SET_SOURCE_OUTPUT_VOLUME", "SET_SOURCE_OUTPUT_MUTE",
	"SET_PORT_LATENCY_OFFSET", "ENABLE_SRBCHANNEL", "DISABLE_SRBCHANNEL", "REGISTER_MEMFD_SHMID",
	"SEND_OBJECT_MESSAGE",
}

func commandName(op uint32) string {
	if op < proto.OpMax {
		return commandNames[op]
	}
	return fmt.Sprintf("COMMAND_%d", op)
}

// handle processes one incoming frame on the event loop.
func (c *Client) handle(m *proto.Message) {
	defer c.s.pool.Put(m)
	if c.disconnected {
		return
	}
	if m.Channel != proto.ControlChannel {
		c.handleMemblock(m)
		return
	}
	r := m.Reader()
	op := r.U32()
	tag := r.U32()
	if err := r.Err(); err != nil {
		c.log.WithError(err).Warn("invalid command header")
		c.Queue(c.s.pool.NewError(proto.Undefined, proto.ErrProtocolError))
		return
	}
	if err := c.dispatch(op, tag, r); err != nil && !errors.Is(err, errDeferred) {
		c.replyError(op, tag, err)
	}
}

func (c *Client) dispatch(op, tag uint32, r *proto.ProtocolReader) error {
	if op >= proto.OpMax {
		return proto.ErrInvalidArgument
	}
	c.log.WithFields(logrus.Fields{"command": commandNames[op], "tag": tag}).Debug("command")
	cmd := &commands[op]
	if cmd.run == nil {
		return proto.ErrNotSupported
	}
	if !c.authenticated && cmd.access&withoutAuth == 0 {
		return proto.ErrAccessDenied
	}
	if c.mgr == nil && cmd.access&withoutManager == 0 {
		return proto.ErrAccessDenied
	}
	return cmd.run(c, op, tag, r)
}

func (c *Client) handleMemblock(m *proto.Message) {
	s, ok := c.streams[m.Channel]
	if !ok || s.kind == stream.Record {
		c.log.WithField("channel", m.Channel).Info("memblock for unknown channel")
		return
	}
	if err := s.write(m.Bytes(), m.Offset, m.Flags); err != nil {
		c.fail(err)
	}
}

// parse decodes the remaining fields of a request into v and checks that
// nothing is left over.
func (c *Client) parse(r *proto.ProtocolReader, v interface{}) error {
	if err := r.Read(v, c.version); err != nil {
		return err
	}
	return r.Done()
}

func (c *Client) accessDenied(op, tag uint32, r *proto.ProtocolReader) error {
	return proto.ErrAccessDenied
}

func (c *Client) notImplemented(op, tag uint32, r *proto.ProtocolReader) error {
	return proto.ErrMissingImplementation
}
