/*
Clusterdispatch hands units of work from a front-end process to a pool of worker processes over
ZeroMQ and recombines the asynchronous replies into a single response.

The task transport is a broadcast channel (PUB/SUB): every worker is connected to the same
publisher, and each message is prefixed with a routing token, the decimal ID of the worker it is
meant for. Workers subscribe to their own token only. Replies travel back over a second broadcast
channel that the dispatching process consumes in a single background loop (the router), which
matches every reply to the pending task it belongs to using the pair (TaskID, WorkerID).

There are two ways of using a pool:

	Single task: one logical request goes to exactly one worker (round-robin), and the caller
	receives exactly that worker's reply.

	Scatter/gather: one request is split into as many chunks as there are workers, every worker
	sorts its chunk, and the partial results are merged in worker order.

Packages:

	transport        PUB/SUB and REQ/REP channels, an in-process bus
	proto            Task/Reply envelopes and their codecs
	worker           the worker executor and its handler table
	dispatch         registry, router, dispatcher and scatter/gather coordinator
	counter, store   shared counter and result store used by the standard operations
	securitymanager  CURVE keys for the sockets of a pool
	api, config      HTTP front-end and configuration
	dispatchd        the server, worker and keygen commands
*/
package clusterdispatch
