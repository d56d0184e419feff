package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
roles:
  owner: "0x00000000000000000000000000000000000000b0"
  manager: "0x00000000000000000000000000000000000000b1"
  strategist: "0x00000000000000000000000000000000000000b2"
  vault: "0x00000000000000000000000000000000000000b3"
  treasury: "0x00000000000000000000000000000000000000b4"
farm:
  address: "0x00000000000000000000000000000000000000c1"
  pending_method: "pendingCake"
router:
  address: "0x00000000000000000000000000000000000000c2"
strategies:
  - name: "cake-lp"
    want: "0x0000000000000000000000000000000000000021"
    reward: "0x0000000000000000000000000000000000000012"
    fee_token: "0x0000000000000000000000000000000000000013"
    pool_id: 7
    leg0: "0x0000000000000000000000000000000000000022"
    leg1: "0x0000000000000000000000000000000000000023"
    routes:
      reward_to_fee:
        - "0x0000000000000000000000000000000000000012"
        - "0x0000000000000000000000000000000000000013"
      fee_to_leg0:
        - "0x0000000000000000000000000000000000000013"
        - "0x0000000000000000000000000000000000000022"
      fee_to_leg1:
        - "0x0000000000000000000000000000000000000013"
        - "0x0000000000000000000000000000000000000023"
    fees:
      call: 50
      treasury: 400
      strategist: 50
      withdrawal: 10
    harvest_on_deposit: false
    swap_deadline: "5m"
    schedule: "0 */4 * * *"
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	file, err := LoadFile(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "0x00000000000000000000000000000000000000b0", file.Roles.Owner)
	assert.Equal(t, "pendingCake", file.Farm.PendingMethod)
	require.Len(t, file.Strategies, 1)

	s := file.Strategies[0]
	assert.Equal(t, "cake-lp", s.Name)
	assert.Equal(t, uint64(7), s.PoolID)
	assert.Equal(t, uint64(50), s.Fees.CallFee)
	assert.Equal(t, uint64(400), s.Fees.TreasuryFee)
	assert.Equal(t, uint64(10), s.Fees.WithdrawalFee)
	assert.Equal(t, "0 */4 * * *", s.Schedule)
	assert.Equal(t, 5*time.Minute, s.Deadline())
	assert.Len(t, s.Routes.RewardToFee, 2)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAddressParsing(t *testing.T) {
	addr, err := Address("0x0000000000000000000000000000000000000012")
	require.NoError(t, err)
	assert.Equal(t, byte(0x12), addr[19])

	_, err = Address("not-an-address")
	assert.Error(t, err)

	_, err = Address("")
	assert.Error(t, err)
}

func TestRouteParsing(t *testing.T) {
	route, err := Route([]string{
		"0x0000000000000000000000000000000000000012",
		"0x0000000000000000000000000000000000000013",
	})
	require.NoError(t, err)
	assert.Len(t, route, 2)

	empty, err := Route(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = Route([]string{"bad"})
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("AC_TEST_STR", "hello")
	assert.Equal(t, "hello", GetEnvOrDefault("AC_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("AC_TEST_UNSET", "fallback"))

	t.Setenv("AC_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvAsInt("AC_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvAsInt("AC_TEST_UNSET", 7))

	t.Setenv("AC_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("AC_TEST_DUR", time.Minute))

	t.Setenv("AC_TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, GetEnvAsFloat("AC_TEST_FLOAT", 1.0))
}
