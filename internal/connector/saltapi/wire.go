package saltapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Remote functions called through the local client.
const (
	FunExecCode   = "cmd.exec_code_all"
	FunDecodeFile = "hashutil.base64_decodefile"
	FunPing       = "test.ping"
)

// ClientLocal runs the function on the targeted minions and waits for the result.
const ClientLocal = "local"

// Lowstate is one salt-api command. Requests carry a JSON array of them.
type Lowstate struct {
	Client string   `json:"client"`
	Target string   `json:"tgt"`
	Fun    string   `json:"fun"`
	Arg    []string `json:"arg"`
}

// Response is the salt-api reply envelope. Each element of Return maps
// minion IDs to that minion's result.
type Response struct {
	Return []json.RawMessage `json:"return"`
}

// ExecReturn is the per-minion result of cmd.exec_code_all.
type ExecReturn struct {
	PID     int    `json:"pid,omitempty"`
	Retcode *int   `json:"retcode"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

func newLowstate(host, fun string, args ...string) []Lowstate {
	if args == nil {
		args = []string{}
	}
	return []Lowstate{{
		Client: ClientLocal,
		Target: host,
		Fun:    fun,
		Arg:    args,
	}}
}

// hostResult extracts the result for host from a salt-api response body.
func hostResult(body []byte, host string) (json.RawMessage, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid response body: %w", err)
	}
	if len(resp.Return) == 0 {
		return nil, errors.New("response has no return entries")
	}

	var byHost map[string]json.RawMessage
	if err := json.Unmarshal(resp.Return[0], &byHost); err != nil {
		return nil, fmt.Errorf("return entry is not a minion map: %w", err)
	}

	raw, ok := byHost[host]
	if !ok {
		return nil, fmt.Errorf("no result for minion %q in response", host)
	}
	return raw, nil
}

// decodeExecReturn parses a cmd.exec_code_all result. Salt reports minions
// that did not answer with a plain string or false instead of an object.
func decodeExecReturn(raw json.RawMessage) (*ExecReturn, error) {
	var ret ExecReturn
	if err := json.Unmarshal(raw, &ret); err != nil {
		var msg string
		if json.Unmarshal(raw, &msg) == nil {
			return nil, fmt.Errorf("minion returned an error: %s", msg)
		}
		return nil, fmt.Errorf("unexpected exec result %s: %w", truncate(string(raw), 200), err)
	}
	if ret.Retcode == nil {
		return nil, fmt.Errorf("exec result has no retcode: %s", truncate(string(raw), 200))
	}
	return &ret, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
