/*
Package alerting tells tenants when their messaging channels stay down.

A Monitor pass lists every session that is not connected and selects the
ones that have been down long enough:

	disconnected / error   disconnected_since older than DisconnectThreshold
	connecting             updated_at older than ConnectingThreshold
	awaiting_reauth        any outage, when ReauthAlerts is enabled

Manually disconnected sessions and sessions already alerted for the current
outage are never selected. Selected sessions are grouped by tenant and each
tenant receives exactly one message listing all of them.

# Once Per Outage

After a successful send every listed session gets
alert_sent_for_current_disconnect set together with last_alert_sent_at, in
one store transaction. The flag only clears when the session returns to
connected, so the next alert for that channel belongs to the next outage.
A failed send leaves the flags untouched and the tenant is retried on the
next pass.

# Recipients

RecipientResolver walks a fixed chain: the tenant's designated admin
profile, the tenant contact email, any owner or admin profile, then the
operator fallback address. Tenants with no address at all are skipped and
logged.

# Delivery

Messages are rendered with text/template and handed to a Notifier.
WebhookNotifier posts them to an external mail relay; LogNotifier only logs
them, which suits development setups.
*/
package alerting
