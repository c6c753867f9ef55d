package types

type User struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Raw   Record `json:"-"`
}

// IsSelf reports whether id denotes this user. An anonymous user (empty id) matches nothing.
func (u *User) IsSelf(id string) bool {
	return u != nil && u.Id != "" && u.Id == id
}
