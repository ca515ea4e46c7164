package account

// UpdateInput carries a partial account update. Empty strings mean "keep the
// current value". Password is handled by the service since it needs hashing.
type UpdateInput struct {
	Title     string
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      Role
}

func (in UpdateInput) applyTo(a *Account) {
	if in.Title != "" {
		a.Title = in.Title
	}
	if in.FirstName != "" {
		a.FirstName = in.FirstName
	}
	if in.LastName != "" {
		a.LastName = in.LastName
	}
	if in.Email != "" {
		a.Email = in.Email
	}
	if in.Role.Valid() {
		a.Role = in.Role
	}
}
