package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckKeyMatchCaseInsensitive(t *testing.T) {
	f := FromQuery(FromKey("HighContrast").ReturnChildKeys(true).Build())

	assert.Equal(t, IterateKeys|KeyMatch, f.Check("HighContrast", false, 0),
		"same-case key match failed")
	assert.Equal(t, IterateKeys|KeyMatch, f.Check("Highcontrast", false, 0),
		"different-case key match failed")
	assert.Equal(t, NoMatch, f.Check("badVal", false, 0),
		"non-matching key unexpectedly matched")
}

func TestCheckKeyMatchPrefix(t *testing.T) {
	f := FromQuery(FromKey(`Software\Vendor\App`).Build())

	assert.Equal(t, IterateKeys, f.Check("Software", false, 0),
		"ancestor of the query path should keep descending")
	assert.Equal(t, IterateKeys|KeyMatch, f.Check(`Software\Vendor\App`, false, 0),
		"exact query path should match")
	assert.Equal(t, NoMatch, f.Check(`Software\Vendor\App\Settings`, false, 0),
		"descendant of the query path should not match")
	assert.Equal(t, NoMatch, f.Check(`Software\Other`, false, 0),
		"sibling path should not match")
}

func TestCheckKeyMatchRegexSegment(t *testing.T) {
	f := FromQuery(FromKey(`Services\x`).WithRegex(1, `^svc\d+$`).Build())

	assert.True(t, f.Check(`Services\svc1`, false, 0).Has(KeyMatch))
	assert.Equal(t, NoMatch, f.Check(`Services\other`, false, 0))
}

func TestFilterWithoutQueryMatchesEverything(t *testing.T) {
	f := New()
	assert.False(t, f.IsValid())
	assert.Equal(t, IterateKeys, f.Check(`anything\at\all`, false, 0))
}

func TestRootKeyWithoutKeyPathHasRoot(t *testing.T) {
	f := FromQuery(FromKey("Software").Build())
	assert.Equal(t, IterateKeys, f.Check("ROOT", true, 0),
		"root key should short-circuit to iterate when query doesn't include the root")
}
