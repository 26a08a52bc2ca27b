package auth

import "context"

// OTPResolver supplies the six-digit security code requested during the
// second login phase. Implementations may prompt a human, poll a mailbox, or
// return a pre-provisioned code.
type OTPResolver interface {
	ResolveOTP(ctx context.Context) (string, error)
}

// OTPResolverFunc adapts a function to the OTPResolver interface.
type OTPResolverFunc func(ctx context.Context) (string, error)

func (f OTPResolverFunc) ResolveOTP(ctx context.Context) (string, error) { return f(ctx) }

// StaticOTP returns a resolver that always yields code. Useful in tests and
// when the code was obtained out of band.
func StaticOTP(code string) OTPResolver {
	return OTPResolverFunc(func(context.Context) (string, error) { return code, nil })
}
