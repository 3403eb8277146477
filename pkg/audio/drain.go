package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent producer goroutines from blocking when a stream's
// frames are no longer wanted (e.g., an [InputStream] being torn down).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
