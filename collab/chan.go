package collab

// TrySend sends v on c unless c is full, and reports whether it did. It never
// blocks, so a slow subscriber or client cannot stall the sender.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
		return true
	default:
		return false
	}
}
