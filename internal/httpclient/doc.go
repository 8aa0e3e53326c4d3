// Package httpclient is the shared client for the Portman REST API.
//
// One [API] value is built per run and used by every bot concurrently:
//
//	api, err := httpclient.NewAPI(baseURL, httpclient.Options{Timeout: 5 * time.Second})
//	if err != nil {
//		return err
//	}
//	defer api.Close()
//
//	user, err := api.GetUser(ctx, auth.NewAPIKeyProvider(credential))
//
// Every call runs under its own deadline and returns either a decoded
// model or a *failure.Error. Transport errors, timeouts and rejected
// statuses are classified here so callers only deal with failure kinds.
//
// # Responses
//
// The API wraps every response in an envelope:
//
//	{"message": "...", "error": "...", "data": {...}}
//
// Successful responses are decoded from data with [models.ParseUser] and
// [models.ParseTickers]; error responses contribute their message and
// error fields to the returned failure.
//
// # Observability
//
// Each call starts an OpenTelemetry client span and, when an [Observer] is
// configured, reports latency and status for metrics.
package httpclient
