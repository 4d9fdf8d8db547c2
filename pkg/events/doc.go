/*
Package events provides an in-process publish/subscribe broker for session
and alert events.

The reconciler, the alert monitor and the sessions service publish an event
for every state change they make. The API streams them to operators over
server-sent events at GET /v1/events.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["session_id"])
	}

Publishing never blocks. Events are dropped when the broker queue or a
subscriber buffer is full, so a slow consumer cannot stall a pass.
*/
package events
