package proto

const (
	OpError   = 0
	OpTimeout = 1
	OpReply   = 2

	OpCreatePlaybackStream = 3
	OpDeletePlaybackStream = 4
	OpCreateRecordStream   = 5
	OpDeleteRecordStream   = 6

	OpExit          = 7
	OpAuth          = 8
	OpSetClientName = 9

	OpLookupSink          = 10
	OpLookupSource        = 11
	OpDrainPlaybackStream = 12
	OpStat                = 13
	OpGetPlaybackLatency  = 14
	OpCreateUploadStream  = 15
	OpDeleteUploadStream  = 16
	OpFinishUploadStream  = 17
	OpPlaySample          = 18
	OpRemoveSample        = 19

	OpGetServerInfo           = 20
	OpGetSinkInfo             = 21
	OpGetSinkInfoList         = 22
	OpGetSourceInfo           = 23
	OpGetSourceInfoList       = 24
	OpGetModuleInfo           = 25
	OpGetModuleInfoList       = 26
	OpGetClientInfo           = 27
	OpGetClientInfoList       = 28
	OpGetSinkInputInfo        = 29
	OpGetSinkInputInfoList    = 30
	OpGetSourceOutputInfo     = 31
	OpGetSourceOutputInfoList = 32
	OpGetSampleInfo           = 33
	OpGetSampleInfoList       = 34
	OpSubscribe               = 35

	OpSetSinkVolume         = 36
	OpSetSinkInputVolume    = 37
	OpSetSourceVolume       = 38
	OpSetSinkMute           = 39
	OpSetSourceMute         = 40
	OpCorkPlaybackStream    = 41
	OpFlushPlaybackStream   = 42
	OpTriggerPlaybackStream = 43

	OpSetDefaultSink        = 44
	OpSetDefaultSource      = 45
	OpSetPlaybackStreamName = 46
	OpSetRecordStreamName   = 47
	OpKillClient            = 48
	OpKillSinkInput         = 49
	OpKillSourceOutput      = 50

	OpLoadModule   = 51
	OpUnloadModule = 52

	// 4 obsolete commands

	OpGetRecordLatency     = 57
	OpCorkRecordStream     = 58
	OpFlushRecordStream    = 59
	OpPrebufPlaybackStream = 60

	OpRequest              = 61 // server -> client
	OpOverflow             = 62 // server -> client
	OpUnderflow            = 63 // server -> client
	OpPlaybackStreamKilled = 64 // server -> client
	OpRecordStreamKilled   = 65 // server -> client
	OpSubscribeEvent       = 66 // server -> client

	OpMoveSinkInput                  = 67
	OpMoveSourceOutput               = 68
	OpSetSinkInputMute               = 69
	OpSuspendSink                    = 70
	OpSuspendSource                  = 71
	OpSetPlaybackStreamBufferAttr    = 72
	OpSetRecordStreamBufferAttr      = 73
	OpUpdatePlaybackStreamSampleRate = 74
	OpUpdateRecordStreamSampleRate   = 75

	OpPlaybackStreamSuspended = 76 // server -> client
	OpRecordStreamSuspended   = 77 // server -> client
	OpPlaybackStreamMoved     = 78 // server -> client
	OpRecordStreamMoved       = 79 // server -> client

	OpUpdateRecordStreamProplist   = 80
	OpUpdatePlaybackStreamProplist = 81
	OpUpdateClientProplist         = 82
	OpRemoveRecordStreamProplist   = 83
	OpRemovePlaybackStreamProplist = 84
	OpRemoveClientProplist         = 85

	OpStarted = 86 // server -> client

	OpExtension = 87

	OpGetCardInfo     = 88
	OpGetCardInfoList = 89
	OpSetCardProfile  = 90

	OpClientEvent               = 91 // server -> client
	OpPlaybackStreamEvent       = 92 // server -> client
	OpRecordStreamEvent         = 93 // server -> client
	OpPlaybackBufferAttrChanged = 94 // server -> client
	OpRecordBufferAttrChanged   = 95 // server -> client

	OpSetSinkPort           = 96
	OpSetSourcePort         = 97
	OpSetSourceOutputVolume = 98
	OpSetSourceOutputMute   = 99

	OpSetPortLatencyOffset = 100

	OpEnableSRBChannel  = 101
	OpDisableSRBChannel = 102

	OpRegisterMemfdShmid = 103

	OpSendObjectMessage = 104

	OpMax = 105
)

// RequestArgs is implemented by every request body.
type RequestArgs interface{ command() uint32 }

// Reply is implemented by every reply body.
type Reply interface{ IsReplyTo() uint32 }

// Command returns the command code of a request.
func Command(r RequestArgs) uint32 { return r.command() }

type CreatePlaybackStream struct {
	Name string "<13"
	SampleSpec
	ChannelMap ChannelMap
	SinkIndex  uint32
	SinkName   string

	BufferMaxLength       uint32
	Corked                bool
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32

	SyncID uint32

	ChannelVolumes ChannelVolumes

	NoRemap      bool "12"
	NoRemix      bool "12"
	FixFormat    bool "12"
	FixRate      bool "12"
	FixChannels  bool "12"
	NoMove       bool "12"
	VariableRate bool "12"

	Muted         bool     "13"
	AdjustLatency bool     "13"
	Properties    PropList "13"

	VolumeSet     bool "14"
	EarlyRequests bool "14"

	MutedSet               bool "15"
	DontInhibitAutoSuspend bool "15"
	FailOnSuspend          bool "15"

	RelativeVolume bool "17"

	Passthrough bool "18"

	Formats []FormatInfo "21"
}
type CreatePlaybackStreamReply struct {
	StreamIndex    uint32
	SinkInputIndex uint32
	Missing        uint32

	BufferMaxLength       uint32 "9"
	BufferTargetLength    uint32 "9"
	BufferPrebufferLength uint32 "9"
	BufferMinimumRequest  uint32 "9"

	SampleSpec "12"
	ChannelMap ChannelMap "12"

	SinkIndex     uint32 "12"
	SinkName      string "12"
	SinkSuspended bool   "12"

	SinkLatency Microseconds "13"

	FormatInfo "21"
}

type DeletePlaybackStream struct{ StreamIndex uint32 }

type CreateRecordStream struct {
	Name string "<13"
	SampleSpec
	ChannelMap      ChannelMap
	SourceIndex     uint32
	SourceName      string
	BufferMaxLength uint32
	Corked          bool
	BufferFragSize  uint32

	NoRemap      bool "12"
	NoRemix      bool "12"
	FixFormat    bool "12"
	FixRate      bool "12"
	FixChannels  bool "12"
	NoMove       bool "12"
	VariableRate bool "12"

	PeakDetect         bool     "13"
	AdjustLatency      bool     "13"
	Properties         PropList "13"
	DirectOnInputIndex uint32   "13"

	EarlyRequests bool "14"

	DontInhibitAutoSuspend bool "15"
	FailOnSuspend          bool "15"

	Formats        []FormatInfo   "22"
	ChannelVolumes ChannelVolumes "22"
	Muted          bool           "22"
	VolumeSet      bool           "22"
	MutedSet       bool           "22"
	RelativeVolume bool           "22"
	Passthrough    bool           "22"
}
type CreateRecordStreamReply struct {
	StreamIndex       uint32
	SourceOutputIndex uint32

	BufferMaxLength uint32 "9"
	BufferFragSize  uint32 "9"

	SampleSpec      "12"
	ChannelMap      ChannelMap "12"
	SourceIndex     uint32     "12"
	SourceName      string     "12"
	SourceSuspended bool       "12"

	SourceLatency Microseconds "13"

	FormatInfo "22"
}

type Exit struct{}

type Auth struct {
	Version Version
	Cookie  []byte
}
type AuthReply struct {
	Version Version
}

type SetClientName struct {
	Name  string   "<13"
	Props PropList "13"
}
type SetClientNameReply struct {
	ClientIndex uint32
}

type SendObjectMessage struct {
	ObjectPath string
	Message    string
	Params     string
}
type SendObjectMessageReply struct {
	Response string
}

type LookupSink struct{ SinkName string }
type LookupSinkReply struct{ SinkIndex uint32 }

type LookupSourceReply struct{ SourceIndex uint32 }

type DrainPlaybackStream struct {
	StreamIndex uint32
}

type Stat struct{}
type StatReply struct {
	NumAllocated    uint32
	AllocatedSize   uint32
	NumAccumulated  uint32
	AccumulatedSize uint32
	SampleCacheSize uint32
}

type GetPlaybackLatency struct {
	StreamIndex uint32
	Time        Time
}
type GetPlaybackLatencyReply struct {
	Latency     Microseconds
	Unused      Microseconds // always 0
	Running     bool
	RequestTime Time
	ReplyTime   Time
	WriteIndex  int64
	ReadIndex   int64

	UnderrunFor uint64 "13"
	PlayingFor  uint64 "13"
}

type GetRecordLatency struct {
	StreamIndex uint32
	Time        Time
}
type GetRecordLatencyReply struct {
	MonitorLatency Microseconds
	Latency        Microseconds
	Running        bool
	RequestTime    Time
	ReplyTime      Time
	WriteIndex     int64
	ReadIndex      int64
}

type CreateUploadStream struct {
	Name string
	SampleSpec
	ChannelMap ChannelMap
	Length     uint32

	Properties PropList "13"
}
type CreateUploadStreamReply struct {
	StreamIndex uint32
	Length      uint32
}

type FinishUploadStream struct {
	StreamIndex uint32
}

type PlaySample struct {
	SinkIndex uint32
	SinkName  string
	Volume    uint32
	Name      string

	Properties PropList "13"
}

type PlaySampleReply struct {
	SinkInputIndex uint32 "13"
}

type RemoveSample struct {
	Name string
}

type GetServerInfo struct{}
type GetServerInfoReply struct {
	PackageName    string
	PackageVersion string
	Username       string
	Hostname       string

	DefaultSampleSpec SampleSpec
	DefaultSinkName   string
	DefaultSourceName string

	Cookie uint32

	DefaultChannelMap ChannelMap "15"
}

type GetSinkInfo struct {
	SinkIndex uint32
	SinkName  string
}
type GetSinkInfoReply struct {
	SinkIndex uint32
	SinkName  string
	Device    string
	SampleSpec
	ChannelMap         ChannelMap
	ModuleIndex        uint32
	ChannelVolumes     ChannelVolumes
	Mute               bool
	MonitorSourceIndex uint32
	MonitorSourceName  string
	Latency            Microseconds
	Driver             string
	Flags              uint32

	Properties       PropList     "13"
	RequestedLatency Microseconds "13"

	BaseVolume     Volume "15"
	State          uint32 "15"
	NumVolumeSteps uint32 "15"
	CardIndex      uint32 "15"

	Ports          []DevicePort "16"
	ActivePortName string       "16"

	Formats []FormatInfo "21"
}

type DevicePort struct {
	Name              string
	Description       string
	Priority          uint32
	Available         uint32 "24"
	AvailabilityGroup string "34"
	Type              uint32 "34"
}

type GetSourceInfo struct {
	SourceIndex uint32
	SourceName  string
}
type GetSourceInfoReply struct {
	SourceIndex uint32
	SourceName  string
	Device      string
	SampleSpec
	ChannelMap         ChannelMap
	ModuleIndex        uint32
	ChannelVolumes     ChannelVolumes
	Mute               bool
	MonitorSourceIndex uint32
	MonitorSourceName  string
	Latency            Microseconds
	Driver             string
	Flags              uint32

	Properties       PropList     "13"
	RequestedLatency Microseconds "13"

	BaseVolume     Volume "15"
	State          uint32 "15"
	NumVolumeSteps uint32 "15"
	CardIndex      uint32 "15"

	Ports          []DevicePort "16"
	ActivePortName string       "16"

	Formats []FormatInfo "21"
}

type GetClientInfoReply struct {
	ClientIndex uint32
	Application string
	ModuleIndex uint32
	Driver      string

	Properties PropList "13"
}

type GetCardInfo struct{ CardIndex uint32 }
type GetCardInfoReply struct {
	CardIndex   uint32
	CardName    string
	ModuleIndex uint32
	Driver      string

	Profiles          []CardProfile
	ActiveProfileName string
	Properties        PropList

	Ports []CardPort "26"
}

type CardProfile struct {
	Name        string
	Description string
	NumSinks    uint32
	NumSources  uint32
	Priority    uint32
	Available   uint32 "29"
}

type CardPort struct {
	Name              string
	Description       string
	Priority          uint32
	Available         uint32
	Direction         byte
	Properties        PropList
	Profiles          []CardPortProfile
	LatencyOffset     int64  "27"
	AvailabilityGroup string "34"
	Type              uint32 "34"
}

type CardPortProfile struct {
	Name string
}

type GetModuleInfoReply struct {
	ModuleIndex uint32
	ModuleName  string
	ModuleArgs  string
	Users       uint32

	Properties PropList "15"
	AutoLoad   bool     "<15"
}

type GetSinkInputInfoReply struct {
	SinkInputIndex uint32
	MediaName      string
	ModuleIndex    uint32
	ClientIndex    uint32
	SinkIndex      uint32
	SampleSpec
	ChannelMap     ChannelMap
	ChannelVolumes ChannelVolumes

	SinkInputLatency Microseconds
	SinkLatency      Microseconds
	ResampleMethod   string
	Driver           string

	Muted bool "11"

	Properties PropList "13"

	Corked bool "19"

	VolumeReadable bool "20"
	VolumeWritable bool "20"

	FormatInfo "21"
}

type GetSourceOutputInfoReply struct {
	SourceOutputIndex uint32
	MediaName         string
	ModuleIndex       uint32
	ClientIndex       uint32
	SourceIndex       uint32
	SampleSpec
	ChannelMap ChannelMap

	SourceOutputLatency Microseconds
	SourceLatency       Microseconds
	ResampleMethod      string
	Driver              string

	Properties PropList "13"

	Corked bool "19"

	ChannelVolumes ChannelVolumes "22"
	Muted          bool           "22"
	VolumeReadable bool           "22"
	VolumeWritable bool           "22"
	FormatInfo     "22"
}

type GetSampleInfo struct {
	SampleIndex uint32
	SampleName  string
}
type GetSampleInfoReply struct {
	SampleIndex    uint32
	SampleName     string
	ChannelVolumes ChannelVolumes
	Duration       Microseconds
	SampleSpec
	ChannelMap ChannelMap
	Length     uint32
	Lazy       bool
	Filename   string

	Properties PropList "13"
}

type GetSinkInfoList struct{}
type GetSourceInfoList struct{}
type GetModuleInfoList struct{}
type GetClientInfoList struct{}
type GetCardInfoList struct{}
type GetSinkInputInfoList struct{}
type GetSourceOutputInfoList struct{}
type GetSampleInfoList struct{}

type GetSinkInfoListReply []*GetSinkInfoReply
type GetSourceInfoListReply []*GetSourceInfoReply
type GetModuleInfoListReply []*GetModuleInfoReply
type GetClientInfoListReply []*GetClientInfoReply
type GetCardInfoListReply []*GetCardInfoReply
type GetSinkInputInfoListReply []*GetSinkInputInfoReply
type GetSourceOutputInfoListReply []*GetSourceOutputInfoReply
type GetSampleInfoListReply []*GetSampleInfoReply

type Subscribe struct{ Mask uint32 }

type SetSinkVolume struct {
	SinkIndex      uint32
	SinkName       string
	ChannelVolumes ChannelVolumes
}

type SetSinkMute struct {
	SinkIndex uint32
	SinkName  string
	Mute      bool
}

type SetSourceMute struct {
	SourceIndex uint32
	SourceName  string
	Mute        bool
}

type CorkPlaybackStream struct {
	StreamIndex uint32
	Corked      bool
}

type SetPlaybackStreamBufferAttr struct {
	StreamIndex           uint32
	BufferMaxLength       uint32
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32

	AdjustLatency bool "13"

	EarlyRequests bool "14"
}
type SetPlaybackStreamBufferAttrReply struct {
	BufferMaxLength       uint32
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32

	SinkLatency Microseconds "13"
}

type SetRecordStreamBufferAttr struct {
	StreamIndex     uint32
	BufferMaxLength uint32
	BufferFragSize  uint32

	AdjustLatency bool "13"

	EarlyRequests bool "14"
}
type SetRecordStreamBufferAttrReply struct {
	BufferMaxLength uint32
	BufferFragSize  uint32

	SourceLatency Microseconds "13"
}

type UpdatePlaybackStreamSampleRate struct {
	StreamIndex uint32
	SampleRate  uint32
}

type UpdateClientProplist struct {
	Mode       uint32
	Properties PropList
}

type SetPlaybackStreamName struct {
	StreamIndex uint32
	Name        string
}

type KillClient struct{ ClientIndex uint32 }

type LoadModule struct {
	Name string
	Args string
}
type LoadModuleReply struct {
	ModuleIndex uint32
}

type UnloadModule struct{ ModuleIndex uint32 }

// The reply type for this command is extension-specific
type Extension struct {
	Index uint32
	Name  string
}

func (*CreatePlaybackStream) command() uint32           { return OpCreatePlaybackStream }
func (*DeletePlaybackStream) command() uint32           { return OpDeletePlaybackStream }
func (*CreateRecordStream) command() uint32             { return OpCreateRecordStream }
func (*Exit) command() uint32                           { return OpExit }
func (*Auth) command() uint32                           { return OpAuth }
func (*SetClientName) command() uint32                  { return OpSetClientName }
func (*LookupSink) command() uint32                     { return OpLookupSink }
func (*DrainPlaybackStream) command() uint32            { return OpDrainPlaybackStream }
func (*Stat) command() uint32                           { return OpStat }
func (*GetPlaybackLatency) command() uint32             { return OpGetPlaybackLatency }
func (*CreateUploadStream) command() uint32             { return OpCreateUploadStream }
func (*FinishUploadStream) command() uint32             { return OpFinishUploadStream }
func (*PlaySample) command() uint32                     { return OpPlaySample }
func (*RemoveSample) command() uint32                   { return OpRemoveSample }
func (*GetServerInfo) command() uint32                  { return OpGetServerInfo }
func (*GetSinkInfo) command() uint32                    { return OpGetSinkInfo }
func (*GetSinkInfoList) command() uint32                { return OpGetSinkInfoList }
func (*GetSourceInfo) command() uint32                  { return OpGetSourceInfo }
func (*GetSourceInfoList) command() uint32              { return OpGetSourceInfoList }
func (*GetModuleInfoList) command() uint32              { return OpGetModuleInfoList }
func (*GetClientInfoList) command() uint32              { return OpGetClientInfoList }
func (*GetSinkInputInfoList) command() uint32           { return OpGetSinkInputInfoList }
func (*GetSourceOutputInfoList) command() uint32        { return OpGetSourceOutputInfoList }
func (*GetSampleInfo) command() uint32                  { return OpGetSampleInfo }
func (*GetSampleInfoList) command() uint32              { return OpGetSampleInfoList }
func (*Subscribe) command() uint32                      { return OpSubscribe }
func (*SetSinkVolume) command() uint32                  { return OpSetSinkVolume }
func (*SetSinkMute) command() uint32                    { return OpSetSinkMute }
func (*SetSourceMute) command() uint32                  { return OpSetSourceMute }
func (*CorkPlaybackStream) command() uint32             { return OpCorkPlaybackStream }
func (*SetPlaybackStreamName) command() uint32          { return OpSetPlaybackStreamName }
func (*KillClient) command() uint32                     { return OpKillClient }
func (*LoadModule) command() uint32                     { return OpLoadModule }
func (*UnloadModule) command() uint32                   { return OpUnloadModule }
func (*GetRecordLatency) command() uint32               { return OpGetRecordLatency }
func (*SetPlaybackStreamBufferAttr) command() uint32    { return OpSetPlaybackStreamBufferAttr }
func (*SetRecordStreamBufferAttr) command() uint32      { return OpSetRecordStreamBufferAttr }
func (*UpdatePlaybackStreamSampleRate) command() uint32 { return OpUpdatePlaybackStreamSampleRate }
func (*UpdateClientProplist) command() uint32           { return OpUpdateClientProplist }
func (*Extension) command() uint32                      { return OpExtension }
func (*GetCardInfo) command() uint32                    { return OpGetCardInfo }
func (*GetCardInfoList) command() uint32                { return OpGetCardInfoList }
func (*SendObjectMessage) command() uint32              { return OpSendObjectMessage }

func (*CreatePlaybackStreamReply) IsReplyTo() uint32        { return OpCreatePlaybackStream }
func (*CreateRecordStreamReply) IsReplyTo() uint32          { return OpCreateRecordStream }
func (*AuthReply) IsReplyTo() uint32                        { return OpAuth }
func (*SetClientNameReply) IsReplyTo() uint32               { return OpSetClientName }
func (*LookupSinkReply) IsReplyTo() uint32                  { return OpLookupSink }
func (*LookupSourceReply) IsReplyTo() uint32                { return OpLookupSource }
func (*StatReply) IsReplyTo() uint32                        { return OpStat }
func (*GetPlaybackLatencyReply) IsReplyTo() uint32          { return OpGetPlaybackLatency }
func (*CreateUploadStreamReply) IsReplyTo() uint32          { return OpCreateUploadStream }
func (*GetServerInfoReply) IsReplyTo() uint32               { return OpGetServerInfo }
func (*GetSinkInfoReply) IsReplyTo() uint32                 { return OpGetSinkInfo }
func (*GetSinkInfoListReply) IsReplyTo() uint32             { return OpGetSinkInfoList }
func (*GetSourceInfoReply) IsReplyTo() uint32               { return OpGetSourceInfo }
func (*GetSourceInfoListReply) IsReplyTo() uint32           { return OpGetSourceInfoList }
func (*GetModuleInfoReply) IsReplyTo() uint32               { return OpGetModuleInfo }
func (*GetModuleInfoListReply) IsReplyTo() uint32           { return OpGetModuleInfoList }
func (*GetClientInfoReply) IsReplyTo() uint32               { return OpGetClientInfo }
func (*GetClientInfoListReply) IsReplyTo() uint32           { return OpGetClientInfoList }
func (*GetSinkInputInfoReply) IsReplyTo() uint32            { return OpGetSinkInputInfo }
func (*GetSinkInputInfoListReply) IsReplyTo() uint32        { return OpGetSinkInputInfoList }
func (*GetSourceOutputInfoReply) IsReplyTo() uint32         { return OpGetSourceOutputInfo }
func (*GetSourceOutputInfoListReply) IsReplyTo() uint32     { return OpGetSourceOutputInfoList }
func (*GetSampleInfoReply) IsReplyTo() uint32               { return OpGetSampleInfo }
func (*GetSampleInfoListReply) IsReplyTo() uint32           { return OpGetSampleInfoList }
func (*PlaySampleReply) IsReplyTo() uint32                  { return OpPlaySample }
func (*LoadModuleReply) IsReplyTo() uint32                  { return OpLoadModule }
func (*GetRecordLatencyReply) IsReplyTo() uint32            { return OpGetRecordLatency }
func (*SetPlaybackStreamBufferAttrReply) IsReplyTo() uint32 { return OpSetPlaybackStreamBufferAttr }
func (*SetRecordStreamBufferAttrReply) IsReplyTo() uint32   { return OpSetRecordStreamBufferAttr }
func (*GetCardInfoReply) IsReplyTo() uint32                 { return OpGetCardInfo }
func (*GetCardInfoListReply) IsReplyTo() uint32             { return OpGetCardInfoList }
func (*SendObjectMessageReply) IsReplyTo() uint32           { return OpSendObjectMessage }

// SERVER -> CLIENT MESSAGES

type Request struct {
	StreamIndex uint32
	Length      uint32
}

type Overflow struct {
	StreamIndex uint32
}

type Underflow struct {
	StreamIndex uint32
	Offset      int64 "23"
}

type PlaybackStreamKilled struct{ StreamIndex uint32 }
type RecordStreamKilled struct{ StreamIndex uint32 }

type SubscribeEvent struct {
	Event uint32
	Index uint32
}

type PlaybackStreamSuspended struct {
	StreamIndex uint32
	Suspended   bool
}

type RecordStreamSuspended struct {
	StreamIndex uint32
	Suspended   bool
}

type PlaybackStreamMoved struct {
	StreamIndex uint32
	DestIndex   uint32
	DestName    string
	Suspended   bool

	BufferMaxLength       uint32       "13"
	BufferTargetLength    uint32       "13"
	BufferPrebufferLength uint32       "13"
	BufferMinimumRequest  uint32       "13"
	SinkLatency           Microseconds "13"
}

type RecordStreamMoved struct {
	StreamIndex uint32
	DestIndex   uint32
	DestName    string
	Suspended   bool

	BufferMaxLength uint32       "13"
	BufferFragSize  uint32       "13"
	SourceLatency   Microseconds "13"
}

type Started struct{ StreamIndex uint32 }

type ClientEvent struct {
	Event      string
	Properties PropList
}

type PlaybackStreamEvent struct {
	StreamIndex uint32
	Event       string
	Properties  PropList
}

type RecordStreamEvent struct {
	StreamIndex uint32
	Event       string
	Properties  PropList
}

type PlaybackBufferAttrChanged struct {
	StreamIndex           uint32
	BufferMaxLength       uint32
	BufferTargetLength    uint32
	BufferPrebufferLength uint32
	BufferMinimumRequest  uint32
	SinkLatency           Microseconds
}

type RecordBufferAttrChanged struct {
	StreamIndex     uint32
	BufferMaxLength uint32
	BufferFragSize  uint32
	SourceLatency   Microseconds
}
