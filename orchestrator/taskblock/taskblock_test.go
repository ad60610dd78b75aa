package taskblock

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// blockSeed describes one randomly generated candidate @@@ block.
type blockSeed struct {
	HasTitle bool
	Title    string
	Body     string
}

func TestExtract_ThreeValidBlocksAndOneInvalid(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"Some intro text.",
		"@@@task",
		"# Task 1",
		"## Objective",
		"Do the first thing.",
		"@@@",
		"Some text between blocks.",
		"@@@tasks",
		"# Task 2",
		"## Scope",
		"Only the second thing.",
		"@@@",
		"@@@",
		"No heading in here, just prose.",
		"@@@",
		"@@@TASK",
		"# Task 3",
		"## Verification",
		"Run the tests.",
		"@@@",
		"Trailing text.",
	}, "\n")

	res := Extract(text)

	require.Equal(t, 4, res.BlockCount)
	require.Equal(t, 3, res.ValidTaskCount)
	require.Equal(t, 1, res.InvalidBlockCount)
	require.Len(t, res.Tasks, 3)
	require.Equal(t, "Task 1", res.Tasks[0].Title)
	require.Equal(t, "Do the first thing.", res.Tasks[0].Objective)
	require.Equal(t, "Task 2", res.Tasks[1].Title)
	require.Equal(t, "Only the second thing.", res.Tasks[1].Scope)
	require.Equal(t, "Task 3", res.Tasks[2].Title)
	require.Equal(t, "Run the tests.", res.Tasks[2].Verification)

	require.Contains(t, res.Cleaned, "<!-- task-placeholder-0 -->")
	require.Contains(t, res.Cleaned, "<!-- task-placeholder-1 -->")
	require.Contains(t, res.Cleaned, "<!-- task-placeholder-2 -->")
	require.Contains(t, res.Cleaned, "<!-- invalid-task-block-removed -->")
	require.NotContains(t, res.Cleaned, "@@@")

	order := []string{
		"<!-- task-placeholder-0 -->",
		"<!-- task-placeholder-1 -->",
		"<!-- invalid-task-block-removed -->",
		"<!-- task-placeholder-2 -->",
	}
	prevIdx := -1
	for _, marker := range order {
		idx := strings.Index(res.Cleaned, marker)
		require.GreaterOrEqual(t, idx, 0)
		require.Greater(t, idx, prevIdx)
		prevIdx = idx
	}
}

func TestExtract_NoFences_ReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	text := "Just a plain coordinator reply with no blocks at all."
	res := Extract(text)

	require.Zero(t, res.BlockCount)
	require.Zero(t, res.ValidTaskCount)
	require.Zero(t, res.InvalidBlockCount)
	require.Empty(t, res.Tasks)
	require.Equal(t, text, res.Cleaned)
}

func TestExtract_UnterminatedFence_CountsAsInvalid(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"@@@task",
		"# Orphan",
		"## Objective",
		"never closed",
	}, "\n")

	res := Extract(text)

	require.Equal(t, 1, res.BlockCount)
	require.Equal(t, 1, res.InvalidBlockCount)
	require.Zero(t, res.ValidTaskCount)
	require.Contains(t, res.Cleaned, "<!-- invalid-task-block-removed -->")
}

func TestExtract_FenceWithLeadingWhitespace_IsNotTreatedAsFence(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"  @@@task",
		"# Not actually fenced",
		"  @@@",
	}, "\n")

	res := Extract(text)

	require.Zero(t, res.BlockCount)
	require.Equal(t, text, res.Cleaned)
}

func TestExtract_CRLFLineEndings(t *testing.T) {
	t.Parallel()

	text := "@@@task\r\n# CRLF Task\r\n## Inputs\r\nsome input\r\n@@@\r\n"
	res := Extract(text)

	require.Equal(t, 1, res.ValidTaskCount)
	require.Equal(t, "CRLF Task", res.Tasks[0].Title)
	require.Equal(t, "some input", res.Tasks[0].Inputs)
}

func TestExtract_TitleIsRawHeadingText_MarkdownNotStripped(t *testing.T) {
	t.Parallel()

	text := "@@@\n# Fix the **critical** bug in `parser.go`\n## Objective\nfix it\n@@@\n"
	res := Extract(text)

	require.Equal(t, 1, res.ValidTaskCount)
	require.Equal(t, "Fix the **critical** bug in `parser.go`", res.Tasks[0].Title)
}

func TestExtract_ObjectiveSynonymGoal(t *testing.T) {
	t.Parallel()

	text := "@@@\n# Synonym Task\n## Goal\nmake it work\n@@@\n"
	res := Extract(text)

	require.Equal(t, 1, res.ValidTaskCount)
	require.Equal(t, "make it work", res.Tasks[0].Objective)
}

// genTaskBlockText builds random well-formed-or-malformed @@@-fenced input:
// each generated block either has a top-level heading (valid) or doesn't
// (invalid), interspersed with plain prose lines.
func genTaskBlockText() gopter.Gen {
	return gen.SliceOfN(6, gen.Struct(reflect.TypeOf(blockSeed{}), map[string]gopter.Gen{
		"HasTitle": gen.Bool(),
		"Title":    gen.AlphaString(),
		"Body":     gen.AlphaString(),
	})).Map(func(blocks []blockSeed) string {
		var b strings.Builder
		for i, blk := range blocks {
			fmt.Fprintf(&b, "prose before block %d\n", i)
			b.WriteString("@@@task\n")
			if blk.HasTitle {
				fmt.Fprintf(&b, "# %s\n", blk.Title)
			}
			fmt.Fprintf(&b, "## Objective\n%s\n", blk.Body)
			b.WriteString("@@@\n")
		}
		return b.String()
	})
}

func TestExtractProperty_IdempotentOnCleanedOutput(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("re-extracting already-cleaned text yields zero valid tasks", prop.ForAll(
		func(text string) bool {
			first := Extract(text)
			second := Extract(first.Cleaned)
			return second.ValidTaskCount == 0 && second.InvalidBlockCount == 0
		},
		genTaskBlockText(),
	))

	properties.Property("validTaskCount + invalidBlockCount always equals blockCount", prop.ForAll(
		func(text string) bool {
			res := Extract(text)
			return res.ValidTaskCount+res.InvalidBlockCount == res.BlockCount
		},
		genTaskBlockText(),
	))

	properties.TestingRun(t)
}
