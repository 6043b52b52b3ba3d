package auth

// Principal владелец ключа API
type Principal struct {
	Name string `json:"name"`
}
