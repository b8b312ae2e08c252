package rate

import "time"

const (
	ClassRegister        = "register"
	ClassLogin           = "login"
	ClassRefresh         = "refresh"
	ClassForgotPassword  = "forgot_password"
	ClassResetPassword   = "reset_password"
	ClassAccountDeletion = "account_deletion"
)

// Policy maps endpoint classes to their rules.
type Policy map[string]Rule

func DefaultPolicy() Policy {
	return Policy{
		ClassRegister:        {Name: ClassRegister, Limit: 5, Window: time.Minute},
		ClassLogin:           {Name: ClassLogin, Limit: 10, Window: time.Minute},
		ClassRefresh:         {Name: ClassRefresh, Limit: 30, Window: time.Minute},
		ClassForgotPassword:  {Name: ClassForgotPassword, Limit: 3, Window: time.Hour},
		ClassResetPassword:   {Name: ClassResetPassword, Limit: 5, Window: time.Hour},
		ClassAccountDeletion: {Name: ClassAccountDeletion, Limit: 3, Window: time.Hour},
	}
}

// With returns a copy of p with class overridden; zero values keep the existing setting.
func (p Policy) With(class string, limit int, window time.Duration) Policy {
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = v
	}
	rule := out[class]
	rule.Name = class
	if limit > 0 {
		rule.Limit = limit
	}
	if window > 0 {
		rule.Window = window
	}
	out[class] = rule
	return out
}

func (p Policy) Rule(class string) (Rule, bool) {
	r, ok := p[class]
	return r, ok
}
