package realtime

import "strings"

// Named realtime streams.
const (
	// StreamDonorAlerts carries requisition alerts pushed to individual donors.
	StreamDonorAlerts = "donor.alerts"
	// StreamSeekerInbox carries response alerts and inbox updates for requisition owners.
	StreamSeekerInbox = "seeker.inbox"
	// StreamRequisitions carries public requisition status changes.
	StreamRequisitions = "requisitions"
)

// DefaultStreams is the subscription set a client gets when it names none.
var DefaultStreams = []string{StreamDonorAlerts, StreamSeekerInbox, StreamRequisitions}

// ParseStreams splits comma separated stream lists into normalised, de-duplicated names.
func ParseStreams(values ...string) []string {
	var parts []string
	for _, value := range values {
		parts = append(parts, strings.Split(value, ",")...)
	}
	return uniqueStreams(parts)
}

// StreamSet builds the lookup set used to restrict which streams a connection may join.
func StreamSet(streams ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(streams))
	for _, stream := range uniqueStreams(streams) {
		set[stream] = struct{}{}
	}
	return set
}
