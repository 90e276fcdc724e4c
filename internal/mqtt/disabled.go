package mqtt

// Disabled stands in for a client when no broker is configured.
// Every publish succeeds without sending anything.
type Disabled struct{}

func (Disabled) Publish(StateEvent) error                { return nil }
func (Disabled) PublishSystem(SystemEvent) error         { return nil }
func (Disabled) SubscribeCommands(h CommandHandler) error { return nil }
func (Disabled) IsConnected() bool                       { return false }
func (Disabled) Close() error                            { return nil }
