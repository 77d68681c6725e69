// Package collector is a local stand-in for the collection service. It
// serves the remote config, events and identity endpoints, records every
// request it receives and answers the way the real service does.
//
// It backs `mptrack collector start` for local development and is used by
// tests through httptest:
//
//	c := collector.New(collector.Options{})
//	c.SetWorkspaceToken("apiKey1", "wtTest1")
//	srv := httptest.NewServer(c.Handler())
//	defer srv.Close()
//	// point config.CDNBaseURL at srv.URL and IdentityURL at srv.URL+"/v1"
package collector
