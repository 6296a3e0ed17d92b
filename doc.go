/*
Package trickle streams chat completions from an OpenAI-compatible service.

An Engine sends a completion request, reads the event-stream body as it
arrives and reports the response to a handler as token deltas followed by
exactly one completion or error. Many streams can be in flight at once, each
registered under its own identifier and cancellable on its own.

# Basic Usage

	tr, err := transport.NewHTTP(transport.WithAPIKey(os.Getenv("TRICKLE_API_KEY")))
	if err != nil {
		// Handle error
	}
	engine, err := trickle.New(trickle.WithTransport(tr))
	if err != nil {
		// Handle error
	}

	req, err := completion.New("openai/gpt-4o-mini", []messages.Message{
		messages.User("Tell me a joke"),
	})
	if err != nil {
		// Handle error
	}

	err = engine.StartStream(ctx, req, trickle.NewStreamID(), stream.HandlerFuncs{
		Token:    func(_ context.Context, text string) { fmt.Print(text) },
		Complete: func(_ context.Context, c stream.Completion) { fmt.Println() },
		Error:    func(_ context.Context, err *llmerr.Error) { fmt.Println(err.Remediation()) },
	})

# Cancellation

CancelStream stops one stream; once it returns no further event is delivered
for it. CancelAllStreams is meant for shutdown. Starting a stream with the
identifier of a stream that is still active fails with ErrStreamActive.

# Observability

WithMetrics records Prometheus metrics for every stream and WithBroker
mirrors the events onto a pub/sub topic named after the stream identifier,
either in process or over NATS.
*/
package trickle
