package stars

const (
	// MinLocation is the lowest valid location id
	MinLocation int64 = 0
	// MaxLocation is the highest valid location id
	MaxLocation int64 = 13
	// MinWorld is the lowest valid world id
	MinWorld int64 = 301
	// MaxWorld is the highest valid world id
	MaxWorld int64 = 580

	// MinWindow is the narrowest window a report may claim, in seconds
	MinWindow int64 = 2 * 60
	// MaxWindow is the widest window a report may claim, in seconds
	MaxWindow int64 = 26 * 60
	// FutureGrace is how far past now a report's maxTime may reach, in seconds
	FutureGrace int64 = 150 * 60
	// StaleGrace is how long after maxTime a sighting stays in the read views, in seconds
	StaleGrace int64 = 60 * 60
	// MergeSlack is how far before an incoming minTime a stored maxTime may end
	// and still be treated as the same observation, in seconds
	MergeSlack int64 = 10 * 60

	// MasterLabel replaces a master credential in the audit view
	MasterLabel = "MASTER PASSWORD"
)

// Sighting is a time-windowed claim that a star is present at a location on a world.
type Sighting struct {
	Location int64 `json:"location"`
	World    int64 `json:"world"`
	MinTime  int64 `json:"minTime"`
	MaxTime  int64 `json:"maxTime"`
}

// Window returns the sighting's time window.
func (s Sighting) Window() Window {
	return Window{Min: s.MinTime, Max: s.MaxTime}
}

// AuditSighting is a sighting annotated with the (possibly redacted) credential that owns it.
type AuditSighting struct {
	Sighting
	Password string `json:"password"`
}

// OwnedSighting is a stored sighting along with its owner credential.
type OwnedSighting struct {
	Sighting
	Owner string
}

// ViewRange returns the bounds (exclusive) on maxTime used by every read view.
func ViewRange(now int64) (lowest int64, highest int64) {
	return now - StaleGrace, now + FutureGrace
}
