package store

// StoreConfig selects and configures the binding backend.
type StoreConfig struct {
	Driver      string // "file" (default), "sqlite", "postgres"
	PostgresDSN string
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Bindings WebhookBindingStore
}

// Close releases every backend.
func (s *Stores) Close() error {
	if s == nil || s.Bindings == nil {
		return nil
	}
	return s.Bindings.Close()
}
