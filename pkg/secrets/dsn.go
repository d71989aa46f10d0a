package secrets

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// ResolveDatabaseURL builds a postgres connection string from a secret.
// A "dsn" key is used verbatim; otherwise username, password, host and dbname are required,
// with port defaulting to 5432 and sslmode to "require".
func ResolveDatabaseURL(ctx context.Context, p Provider, secretName string) (string, error) {
	values, err := p.GetSecret(ctx, secretName)
	if err != nil {
		return "", err
	}

	if dsn := values["dsn"]; dsn != "" {
		return dsn, nil
	}

	for _, k := range []string{"username", "password", "host", "dbname"} {
		if values[k] == "" {
			return "", fmt.Errorf("secret [%s] missing %q", secretName, k)
		}
	}

	port := values["port"]
	if port == "" {
		port = "5432"
	}
	sslmode := values["sslmode"]
	if sslmode == "" {
		sslmode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(values["username"], values["password"]),
		Host:     net.JoinHostPort(values["host"], port),
		Path:     "/" + values["dbname"],
		RawQuery: url.Values{"sslmode": []string{sslmode}}.Encode(),
	}
	return u.String(), nil
}
