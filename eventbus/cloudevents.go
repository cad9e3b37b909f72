package eventbus

import (
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// ToCloudEvent converts a bus event to a CloudEvents v1 event so the Record
// can be exported in a standard interchange format. The hierarchical topic
// becomes the CloudEvent type, the source id becomes the source, payload
// becomes JSON data, and essence labels travel as a comma-joined extension.
func ToCloudEvent(event Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(generateEventID())
	ce.SetType(event.Type)
	ce.SetSource(event.SourceID)
	ce.SetTime(event.Timestamp)
	ce.SetSpecVersion(cloudevents.VersionV1)

	if event.Payload != nil {
		if err := ce.SetData(cloudevents.ApplicationJSON, event.Payload); err != nil {
			return ce, fmt.Errorf("set cloudevent data: %w", err)
		}
	}
	if len(event.EssenceLabels) > 0 {
		ce.SetExtension("essencelabels", strings.Join(event.EssenceLabels, ","))
	}
	for key, value := range event.Metadata {
		ce.SetExtension(extensionName(key), value)
	}
	return ce, nil
}

// RecordToCloudEvents converts a queried slice of Record events, skipping
// any that cannot be represented.
func RecordToCloudEvents(events []Event) []cloudevents.Event {
	out := make([]cloudevents.Event, 0, len(events))
	for _, e := range events {
		ce, err := ToCloudEvent(e)
		if err != nil {
			continue
		}
		out = append(out, ce)
	}
	return out
}

// extensionName lowercases and strips a metadata key down to the character
// set CloudEvents allows for extension attribute names.
func extensionName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "meta"
	}
	return b.String()
}

// generateEventID returns a UUIDv7 (time-ordered) id, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
