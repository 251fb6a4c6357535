package booking

// SessionState represents the progress of the tutoring session itself
type SessionState string

const (
	// SessionRequested indicates the booking has been created but not confirmed
	SessionRequested SessionState = "REQUESTED"
	// SessionScheduled indicates the tutor accepted and a slot is reserved
	SessionScheduled SessionState = "SCHEDULED"
	// SessionActive indicates the session is currently running
	SessionActive SessionState = "ACTIVE"
	// SessionEnded indicates the session finished with a recorded outcome
	SessionEnded SessionState = "ENDED"
	// SessionCancelled indicates the booking was cancelled before the session ran
	SessionCancelled SessionState = "CANCELLED"
	// SessionExpired indicates the request lapsed without confirmation
	SessionExpired SessionState = "EXPIRED"
)

// CanTransitionTo checks if a session state transition is valid
func (s SessionState) CanTransitionTo(target SessionState) bool {
	validTransitions := map[SessionState][]SessionState{
		SessionRequested: {SessionScheduled, SessionCancelled, SessionExpired},
		SessionScheduled: {SessionActive, SessionCancelled},
		SessionActive:    {SessionEnded},
		// Terminal states
		SessionEnded:     {},
		SessionCancelled: {},
		SessionExpired:   {},
	}

	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}

	return false
}

// IsTerminal returns true if no further session transitions are possible
func (s SessionState) IsTerminal() bool {
	return s == SessionEnded || s == SessionCancelled || s == SessionExpired
}

// SessionOutcome records how an ended session concluded.
// It is set exactly when the session reaches ENDED and never changes afterwards.
type SessionOutcome string

const (
	OutcomeNone          SessionOutcome = ""
	OutcomeCompleted     SessionOutcome = "COMPLETED"
	OutcomeNotHeld       SessionOutcome = "NOT_HELD"
	OutcomeNoShowStudent SessionOutcome = "NO_SHOW_STUDENT"
	OutcomeNoShowTutor   SessionOutcome = "NO_SHOW_TUTOR"
)

// IsValid reports whether the outcome is one of the recordable values
func (o SessionOutcome) IsValid() bool {
	switch o {
	case OutcomeCompleted, OutcomeNotHeld, OutcomeNoShowStudent, OutcomeNoShowTutor:
		return true
	default:
		return false
	}
}

// PaymentState represents settlement progress with the payment provider
type PaymentState string

const (
	// PaymentPending indicates no money movement has been initiated
	PaymentPending PaymentState = "PENDING"
	// PaymentAuthorized indicates funds are reserved but not captured
	PaymentAuthorized PaymentState = "AUTHORIZED"
	// PaymentCaptured indicates funds have been collected
	PaymentCaptured PaymentState = "CAPTURED"
	// PaymentVoided indicates the authorization was released without capture
	PaymentVoided PaymentState = "VOIDED"
	// PaymentRefunded indicates the full captured amount was returned
	PaymentRefunded PaymentState = "REFUNDED"
	// PaymentPartiallyRefunded indicates part of the captured amount was returned
	PaymentPartiallyRefunded PaymentState = "PARTIALLY_REFUNDED"
)

// CanTransitionTo checks if a payment state transition is valid
func (p PaymentState) CanTransitionTo(target PaymentState) bool {
	validTransitions := map[PaymentState][]PaymentState{
		PaymentPending:    {PaymentAuthorized, PaymentVoided},
		PaymentAuthorized: {PaymentCaptured, PaymentVoided},
		PaymentCaptured:   {PaymentRefunded, PaymentPartiallyRefunded},
		// Further partial refunds are allowed until the captured amount is exhausted
		PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
		// Terminal states
		PaymentRefunded: {},
		PaymentVoided:   {},
	}

	allowed, exists := validTransitions[p]
	if !exists {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}

	return false
}

// IsTerminal returns true if no further payment transitions are possible
func (p PaymentState) IsTerminal() bool {
	return p == PaymentRefunded || p == PaymentVoided
}

// DisputeState represents the lifecycle of a dispute raised against the booking
type DisputeState string

const (
	// DisputeNone indicates no dispute has been raised
	DisputeNone DisputeState = "NONE"
	// DisputeOpen indicates a dispute is awaiting resolution
	DisputeOpen DisputeState = "OPEN"
	// DisputeResolvedUpheld indicates the charge was upheld as-is
	DisputeResolvedUpheld DisputeState = "RESOLVED_UPHELD"
	// DisputeResolvedRefunded indicates the dispute ended in a refund
	DisputeResolvedRefunded DisputeState = "RESOLVED_REFUNDED"
)

// CanTransitionTo checks if a dispute state transition is valid.
// The NONE -> OPEN edge carries additional guards (session ended, window open)
// that are enforced by the Booking aggregate, not here.
func (d DisputeState) CanTransitionTo(target DisputeState) bool {
	validTransitions := map[DisputeState][]DisputeState{
		DisputeNone: {DisputeOpen},
		DisputeOpen: {DisputeResolvedUpheld, DisputeResolvedRefunded},
		// Terminal states
		DisputeResolvedUpheld:   {},
		DisputeResolvedRefunded: {},
	}

	allowed, exists := validTransitions[d]
	if !exists {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}

	return false
}

// IsResolution reports whether the state is a valid dispute resolution value
func (d DisputeState) IsResolution() bool {
	return d == DisputeResolvedUpheld || d == DisputeResolvedRefunded
}
