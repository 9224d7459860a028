package security

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// TokenEntry is one row of the tokens file.
type TokenEntry struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Tenant  string   `yaml:"tenant"`
	Roles   []string `yaml:"roles"`
}

type tokensFile struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

// LoadTokens builds a StaticVerifier from a YAML tokens file:
//
//	tokens:
//	  - token: "…"
//	    subject: alice
//	    tenant: T-A
//	    roles: [submitter]
func LoadTokens(path string) (*StaticVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "reading tokens file %q", path)
	}

	var file tokensFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "parsing tokens file %q", path)
	}

	v := NewStaticVerifier()
	for i, entry := range file.Tokens {
		if entry.Token == "" || entry.Subject == "" {
			return nil, apperr.New(apperr.KindValidation,
				"tokens file %q: entry %d: token and subject are required", path, i)
		}
		if len(entry.Roles) == 0 {
			return nil, apperr.New(apperr.KindValidation,
				"tokens file %q: entry %d (%s): at least one role is required", path, i, entry.Subject)
		}
		v.Add(entry.Token, Identity{
			Subject: entry.Subject,
			Tenant:  entry.Tenant,
			Roles:   entry.Roles,
		})
	}
	return v, nil
}
