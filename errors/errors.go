package errors

import "fmt"

var (
	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrUserNotFound      = fmt.Errorf("user not found")
	ErrInvalidPassword   = fmt.Errorf("password does not meet complexity rules")

	ErrMessageExists   = fmt.Errorf("message already exists")
	ErrMessageNotFound = fmt.Errorf("message not found")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)
