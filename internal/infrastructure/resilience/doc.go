/*
Package resilience guards upstream hosts with circuit breakers.

A Breaker counts failed calls to one upstream and, once ReadyToTrip says
so, rejects further calls until a cool-down has passed. After the
cool-down a limited number of probe calls decide whether the upstream is
healthy again.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                            |
	                                        [failure]
	                                            v
	                                           Open

Group keeps one breaker per key (the CORS proxy keys by upstream host) and
forgets breakers for keys that have not been used for a while.

	breakers := resilience.NewGroup(resilience.Settings{Timeout: 30 * time.Second})
	defer breakers.Stop()

	resp, err := resilience.Call(breakers.Get(host), func() (*resty.Response, error) {
		return req.Execute(method, target)
	})
*/
package resilience
