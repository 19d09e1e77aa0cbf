package proto

// Subscription masks used with the SUBSCRIBE command.
const (
	SubscriptionMaskNull         = 0x0000
	SubscriptionMaskSink         = 0x0001
	SubscriptionMaskSource       = 0x0002
	SubscriptionMaskSinkInput    = 0x0004
	SubscriptionMaskSourceOutput = 0x0008
	SubscriptionMaskModule       = 0x0010
	SubscriptionMaskClient       = 0x0020
	SubscriptionMaskSampleCache  = 0x0040
	SubscriptionMaskServer       = 0x0080
	SubscriptionMaskAutoload     = 0x0100
	SubscriptionMaskCard         = 0x0200
	SubscriptionMaskAll          = 0x02ff
)

// Facilities and event types of a subscribe event.
const (
	EventSink         = 0x0000
	EventSource       = 0x0001
	EventSinkInput    = 0x0002
	EventSourceOutput = 0x0003
	EventModule       = 0x0004
	EventClient       = 0x0005
	EventSampleCache  = 0x0006
	EventServer       = 0x0007
	EventAutoload     = 0x0008
	EventCard         = 0x0009
	EventFacilityMask = 0x000F

	EventNew      = 0x0000
	EventChange   = 0x0010
	EventRemove   = 0x0020
	EventTypeMask = 0x0030
)

// GetFacility returns the facility of the event.
func (e *SubscribeEvent) GetFacility() uint32 { return e.Event & EventFacilityMask }

// GetType returns the event type (new, change or remove).
func (e *SubscribeEvent) GetType() uint32 { return e.Event & EventTypeMask }

// FacilityMask returns the subscription mask bit that selects events of facility f.
func FacilityMask(facility uint32) uint32 { return 1 << (facility & EventFacilityMask) }
