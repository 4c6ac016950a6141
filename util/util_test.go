package util_test

import (
	"testing"

	"github.com/hydra-mesh/hydra/util"
	"github.com/stretchr/testify/assert"
)

func TestStringHashDeterministic(t *testing.T) {
	a := util.StringHash("hydra:service:svc1")
	b := util.StringHash("hydra:service:svc1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, util.StringHash("hydra:service:svc2"))
}

func TestStringHashVector(t *testing.T) {
	assert.Equal(t, uint32(2282002681), util.StringHash("TEST_STRING"))
}

func TestNewInstanceIDHasNoDashes(t *testing.T) {
	id := util.NewInstanceID()
	assert.NotContains(t, id, "-")
	assert.Len(t, id, 32)
}

func TestMD5Hash(t *testing.T) {
	assert.Equal(t, "58cf16b25485a0116b85806bba9ca7e4", util.MD5Hash("TEST_KEY"))
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, util.IsValidUUID("123e4567-e89b-12d3-a456-426614174000"))
	assert.False(t, util.IsValidUUID("not-a-uuid"))
}

func TestFisherYatesShuffleIsAPermutation(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	shuffled := append([]int(nil), items...)
	util.FisherYatesShuffle(shuffled)
	assert.ElementsMatch(t, items, shuffled)
}

func TestSafeJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, util.SafeJSON(map[string]int{"a": 1}))
	assert.Equal(t, "null", util.SafeJSON(make(chan int)))
}

func TestLocalIP(t *testing.T) {
	ip, err := util.LocalIP()
	if err != nil {
		t.Skip("no non-loopback interface available in this environment")
	}
	assert.NotEmpty(t, ip)
}
