package codec

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

func TestCanonicalizeSortsKeysWithoutWhitespace(t *testing.T) {
	out, err := Canonicalize(map[string]any{
		"b":     1,
		"a":     []any{"x", 2.5, true, nil},
		"inner": map[string]any{"z": "<tag>", "m": 0.1},
	})
	require.NoError(t, err)
	require.Equal(t, `{"a":["x",2.5,true,null],"b":1,"inner":{"m":0.1,"z":"<tag>"}}`, string(out))
}

func TestCanonicalizeRespectsStructTags(t *testing.T) {
	type record struct {
		Zeta   string    `json:"zeta"`
		Alpha  int       `json:"alpha"`
		Hidden string    `json:"-"`
		At     time.Time `json:"at"`
	}
	out, err := Canonicalize(record{Zeta: "z", Alpha: 1, Hidden: "h", At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":1,"at":"2025-01-02T03:04:05Z","zeta":"z"}`, string(out))
}

func TestCanonicalizeRejectsUnrepresentableValues(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	type node struct {
		Next *node `json:"next"`
	}
	loop := &node{}
	loop.Next = loop

	cases := map[string]any{
		"nan":           map[string]any{"score": math.NaN()},
		"positive inf":  []any{math.Inf(1)},
		"negative inf":  map[string]float64{"x": math.Inf(-1)},
		"cyclic map":    cyclic,
		"cyclic struct": loop,
		"channel":       map[string]any{"ch": make(chan int)},
		"func":          []any{func() {}},
		"complex":       map[string]any{"c": complex(1, 2)},
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Canonicalize(value)
			require.Error(t, err)
			require.True(t, xerrors.HasCode(err, xerrors.CodeEncoding), "unexpected error: %v", err)
		})
	}
}

func TestSharedReferencesAreNotCycles(t *testing.T) {
	shared := map[string]any{"k": "v"}
	_, err := Canonicalize(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
}

func TestHashIsSHA256Hex(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
	require.Len(t, Hash([]byte("poa")), 64)
}

func TestDigestMatchesHashOfCanonicalBytes(t *testing.T) {
	v := map[string]any{"store_id": "store_001", "items": []any{}}
	data, err := Canonicalize(v)
	require.NoError(t, err)
	digest, err := Digest(v)
	require.NoError(t, err)
	require.Equal(t, Hash(data), digest)
}

func TestCanonicalizeIsKeyOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("field order and whitespace do not change canonical bytes", prop.ForAll(
		func(fields map[string]int) bool {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			forward := objectText(keys, fields, "")
			reversed := make([]string, len(keys))
			for i, k := range keys {
				reversed[len(keys)-1-i] = k
			}
			backward := objectText(reversed, fields, "  \n")

			a, errA := Canonicalize(json.RawMessage(forward))
			b, errB := Canonicalize(json.RawMessage(backward))
			if errA != nil || errB != nil {
				return false
			}
			return string(a) == string(b)
		},
		gen.MapOf(gen.Identifier(), gen.Int()),
	))

	properties.TestingRun(t)
}

func objectText(keys []string, fields map[string]int, pad string) string {
	var b strings.Builder
	b.WriteString("{" + pad)
	for i, k := range keys {
		if i > 0 {
			b.WriteString("," + pad)
		}
		key, _ := json.Marshal(k)
		val, _ := json.Marshal(fields[k])
		b.Write(key)
		b.WriteString(":" + pad)
		b.Write(val)
	}
	b.WriteString(pad + "}")
	return b.String()
}
