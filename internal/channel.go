package internal

// IsChannelClosed reports whether a signal channel, such as the one returned by Client.Connected, is closed.
// It panics if a value was sent to the channel, signal channels are only ever closed.
func IsChannelClosed(channel chan struct{}) bool {
	select {
	case _, ok := <-channel:
		if ok {
			panic("received unexpected message")
		}
		return true
	default:
		return false
	}
}
