package pointapi

import (
	"bufio"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	bacnet "github.com/normalframework/bacnet-cov-demo"
)

const protoFile = "proto/normalgw/bacnet/v1/bacnet.proto"

var (
	messageLine = regexp.MustCompile(`^message (\w+) \{`)
	fieldLine   = regexp.MustCompile(`^(?:repeated\s+)?[\w.]+\s+\w+\s*=\s*(\d+);`)
	serviceLine = regexp.MustCompile(`^service (\w+) \{`)
	rpcLine     = regexp.MustCompile(`^rpc (\w+)\(`)
)

// protoDefinitions reads the field numbers of every message and the methods
// of every service declared in the .proto file.
func protoDefinitions(t *testing.T) (map[string][]int, map[string][]string) {
	t.Helper()
	f, err := os.Open(protoFile)
	require.NoError(t, err)
	defer f.Close()

	fields := make(map[string][]int)
	services := make(map[string][]string)
	var message, service string
	depth := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if depth == 0 {
			if m := messageLine.FindStringSubmatch(line); m != nil {
				message, service = m[1], ""
				fields[message] = []int{}
			} else if m := serviceLine.FindStringSubmatch(line); m != nil {
				message, service = "", m[1]
			}
		}
		if m := fieldLine.FindStringSubmatch(line); m != nil && message != "" {
			n, err := strconv.Atoi(m[1])
			require.NoError(t, err)
			fields[message] = append(fields[message], n)
		}
		if m := rpcLine.FindStringSubmatch(line); m != nil && service != "" {
			services[service] = append(services[service], m[1])
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
	}
	require.NoError(t, scanner.Err())
	return fields, services
}

// wireFields returns the sorted, distinct field numbers present in b.
func wireFields(t *testing.T, b []byte) []int {
	t.Helper()
	seen := make(map[int]bool)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		require.GreaterOrEqual(t, m, 0)
		b = b[m:]
		seen[int(num)] = true
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func TestMessages_MatchProtoFieldNumbers(t *testing.T) {
	fields, _ := protoDefinitions(t)

	id := ObjectID{ObjectType: bacnet.OBJECT_ANALOG_VALUE, Instance: 3}
	props := []PropertyValue{{Property: bacnet.PROP_PRESENT_VALUE, Value: Real(70)}}
	object := LocalObject{ObjectID: id, Props: props}

	encoded := map[string][]byte{
		"ObjectId":                 id.marshal(),
		"PropertyValue":            props[0].marshal(),
		"LocalObject":              object.marshal(),
		"GetLocalObjectsRequest":   (&GetLocalObjectsRequest{}).marshal(),
		"GetLocalObjectsReply":     (&GetLocalObjectsReply{Objects: []LocalObject{object}}).marshal(),
		"CreateLocalObjectRequest": NewCreateLocalObjectRequest(id, props).marshal(),
		"UpdateLocalObjectRequest": NewUpdateLocalObjectRequest(id, props).marshal(),
		"DeleteLocalObjectRequest": (&DeleteLocalObjectRequest{ObjectID: id}).marshal(),
	}
	for name, b := range encoded {
		want, ok := fields[name]
		require.True(t, ok, "message %s missing from %s", name, protoFile)
		sort.Ints(want)
		assert.Equal(t, want, wireFields(t, b), name)
	}
}

func TestApplicationDataValue_MatchesProtoOneof(t *testing.T) {
	fields, _ := protoDefinitions(t)

	values := []ApplicationDataValue{
		{Kind: KindNull},
		{Kind: KindBoolean, Boolean: true},
		{Kind: KindUnsigned, Unsigned: 2},
		{Kind: KindSigned, Signed: -1},
		Real(1.5),
		{Kind: KindDouble, Double: 2.5},
		CharacterString("Active"),
		Enumerated(1),
	}
	var got []int
	for _, v := range values {
		got = append(got, wireFields(t, v.marshal())...)
	}
	sort.Ints(got)

	want := fields["ApplicationDataValue"]
	sort.Ints(want)
	assert.Equal(t, want, got)
}

func TestServiceDesc_MatchesProto(t *testing.T) {
	_, services := protoDefinitions(t)

	want := services[strings.TrimPrefix(serviceName, "normalgw.bacnet.v1.")]
	var got []string
	for _, m := range configurationServiceDesc.Methods {
		got = append(got, m.MethodName)
	}
	assert.ElementsMatch(t, want, got)
}
