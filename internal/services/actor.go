package services

// Actor identifies the authenticated caller of a state-changing operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// canManage reports whether the actor owns the requisition or administers the platform.
func (a Actor) canManage(requesterID string) bool {
	if a.IsAdmin {
		return true
	}
	return a.UserID != "" && a.UserID == requesterID
}
