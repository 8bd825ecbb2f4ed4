package models

type User struct {
	ID        string  `json:"id" db:"id"` // User-chosen handle, unique
	Password  string  `json:"-" db:"password"`
	Name      string  `json:"name" db:"name"`
	FCMToken  *string `json:"-" db:"fcm_token"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// Ref returns the wire reference for this user
func (u *User) Ref() UserRef {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	return UserRef{ID: u.ID, Name: name}
}
