package dashboard

import "strings"

// RecipientSeparator joins the recipients of one event of one flow.
const RecipientSeparator = ", "

type flowKey struct {
	projectID       string
	configurationID string
}

// BuildMatrix pivots subscriptions into one row per known flow with one
// column per recognized event type.
//
// Recipients of the same (flow, event) are joined in input order. Rows
// follow the order of flows and every flow appears exactly once, with ""
// for events nobody subscribed to. Subscriptions of unknown flows are
// dropped; subscriptions with an unrecognized event are returned in
// Matrix.Unrecognized. Rows with neither event nor recipient are export
// placeholders for flows without subscriptions and are skipped, as are
// recognized events with an empty recipient.
func BuildMatrix(subs []NotificationSubscription, flows []FlowMeta) Matrix {
	recipients := make(map[flowKey]map[EventType][]string, len(flows))

	var unrecognized []NotificationSubscription

	for _, sub := range subs {
		if sub.Event == "" && sub.RecipientAddress == "" {
			continue
		}

		if !sub.Event.Recognized() {
			unrecognized = append(unrecognized, sub)

			continue
		}

		if sub.RecipientAddress == "" {
			continue
		}

		key := flowKey{sub.ProjectID, sub.ConfigurationID}

		events, ok := recipients[key]
		if !ok {
			events = make(map[EventType][]string, len(eventTypes))
			recipients[key] = events
		}

		events[sub.Event] = append(events[sub.Event], sub.RecipientAddress)
	}

	rows := make([]NotificationMatrixRow, 0, len(flows))

	for _, flow := range flows {
		row := NotificationMatrixRow{
			FlowMeta:   flow,
			Recipients: make(map[EventType]string, len(eventTypes)),
		}

		events := recipients[flowKey{flow.ProjectID, flow.ConfigurationID}]

		for _, e := range eventTypes {
			row.Recipients[e] = strings.Join(events[e], RecipientSeparator)
		}

		rows = append(rows, row)
	}

	return Matrix{Rows: rows, Unrecognized: unrecognized}
}
