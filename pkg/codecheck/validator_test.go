package codecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsCleanScript(t *testing.T) {
	v := New("/var/oktant/data")
	code := `import json
import requests

resp = requests.get("https://org.okta.com/api/v1/users?limit=200")
users = resp.json()
with open("/var/oktant/data/users.json", "w") as f:
    json.dump(users, f)
print("done")
`
	res, approval := v.Validate(code)
	require.True(t, res.OK, "violations: %v", res.Violations)
	require.NotNil(t, approval)
	assert.True(t, approval.Consume(code))
}

func TestValidateRejectsForbiddenImport(t *testing.T) {
	v := New("/var/oktant/data")
	res, approval := v.Validate("import socket\nprint('hi')\n")

	assert.False(t, res.OK)
	assert.Nil(t, approval)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0].Rule, "socket")
	assert.Equal(t, 1, res.Violations[0].LineNo)
}

func TestValidateRejectsDynamicExecution(t *testing.T) {
	v := New("/var/oktant/data")
	for _, code := range []string{
		"eval('1+1')\n",
		"exec(payload)\n",
		"__import__('os')\n",
		"import subprocess\n",
		"os.system('rm -rf /')\n",
	} {
		res, approval := v.Validate(code)
		assert.False(t, res.OK, "should reject %q", code)
		assert.Nil(t, approval)
	}
}

func TestValidateRejectsEndpointOutsideBasePath(t *testing.T) {
	v := New("/var/oktant/data")
	res, _ := v.Validate(`resp = requests.get("https://org.okta.com/oauth2/v1/token")` + "\n")

	assert.False(t, res.OK)
	require.NotEmpty(t, res.Violations)
	assert.Contains(t, res.Violations[0].Rule, "/oauth2/v1/token")
}

func TestValidateRejectsWriteOutsideDataDir(t *testing.T) {
	v := New("/var/oktant/data")

	res, _ := v.Validate(`open("/etc/passwd", "w")` + "\n")
	assert.False(t, res.OK)

	res, _ = v.Validate(`open("/var/oktant/data/../secrets", "w")` + "\n")
	assert.False(t, res.OK)

	// Dynamic write targets cannot be proven safe.
	res, _ = v.Validate(`open(path, "w")` + "\n")
	assert.False(t, res.OK)

	// Reads are unrestricted.
	res, _ = v.Validate(`open("/etc/hostname")` + "\n")
	assert.True(t, res.OK)
}

func TestValidateIgnoresComments(t *testing.T) {
	v := New("/var/oktant/data")
	res, _ := v.Validate("# eval() would be bad\nprint('ok')  # import socket\n")
	assert.True(t, res.OK, "violations: %v", res.Violations)
}

func TestApprovalSingleUseAndBinding(t *testing.T) {
	v := New("/var/oktant/data")
	code := "print('ok')\n"
	res, approval := v.Validate(code)
	require.True(t, res.OK)

	// Wrong code is refused.
	assert.False(t, approval.Consume("print('tampered')\n"))

	// First use succeeds, second is refused.
	assert.True(t, approval.Consume(code))
	assert.False(t, approval.Consume(code))

	// Nil approval is always refused.
	var nilApproval *Approval
	assert.False(t, nilApproval.Consume(code))
}
