package soupbintcp

// Handler receives decoded messages, one method per message kind.
// Methods are called from the session's read loop in arrival order and
// must not block it for long. Each message owns its buffer.
type Handler interface {
	OnDebug(s *Session, m Debug)

	// From the server.
	OnLoginAccepted(s *Session, m LoginAccepted)
	OnLoginRejected(s *Session, m LoginRejected)
	OnSequencedData(s *Session, m SequencedData)
	OnServerHeartbeat(s *Session, m ServerHeartbeat)
	OnEndOfSession(s *Session, m EndOfSession)

	// From the client.
	OnLoginRequest(s *Session, m LoginRequest)
	OnUnsequencedData(s *Session, m UnsequencedData)
	OnClientHeartbeat(s *Session, m ClientHeartbeat)
	OnLogoutRequest(s *Session, m LogoutRequest)
}

// NopHandler ignores every message. Embed it to implement only the
// methods a role needs.
type NopHandler struct{}

// OnDebug does nothing.
func (NopHandler) OnDebug(*Session, Debug) {}

// OnLoginAccepted does nothing.
func (NopHandler) OnLoginAccepted(*Session, LoginAccepted) {}

// OnLoginRejected does nothing.
func (NopHandler) OnLoginRejected(*Session, LoginRejected) {}

// OnSequencedData does nothing.
func (NopHandler) OnSequencedData(*Session, SequencedData) {}

// OnServerHeartbeat does nothing.
func (NopHandler) OnServerHeartbeat(*Session, ServerHeartbeat) {}

// OnEndOfSession does nothing.
func (NopHandler) OnEndOfSession(*Session, EndOfSession) {}

// OnLoginRequest does nothing.
func (NopHandler) OnLoginRequest(*Session, LoginRequest) {}

// OnUnsequencedData does nothing.
func (NopHandler) OnUnsequencedData(*Session, UnsequencedData) {}

// OnClientHeartbeat does nothing.
func (NopHandler) OnClientHeartbeat(*Session, ClientHeartbeat) {}

// OnLogoutRequest does nothing.
func (NopHandler) OnLogoutRequest(*Session, LogoutRequest) {}
