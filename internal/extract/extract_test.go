package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlocks_SingleBlockVerbatim(t *testing.T) {
	reply := "Here you go:\n" +
		"```python\n" +
		"import math\n" +
		"\n" +
		"print(math.pi)  # spacing preserved\n" +
		"```\n" +
		"That prints pi."

	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "python", blocks[0].Lang)
	require.Equal(t, 2, blocks[0].Line)
	require.Equal(t, "import math\n\nprint(math.pi)  # spacing preserved\n", blocks[0].Source)
}

func TestBlocks_NoFences(t *testing.T) {
	require.Empty(t, Blocks("just prose, no code at all", "python"))
}

func TestBlocks_NonMatchingTagIgnored(t *testing.T) {
	reply := "```bash\necho hi\n```\n```\nuntagged\n```"
	require.Empty(t, Blocks(reply, "python"))
}

func TestBlocks_TagCaseInsensitive(t *testing.T) {
	reply := "```Python\nprint(1)\n```"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "print(1)\n", blocks[0].Source)
}

func TestBlocks_UnterminatedFenceDiscarded(t *testing.T) {
	reply := "```python\nprint('never closed')\nmore text that is not code"
	require.Empty(t, Blocks(reply, "python"))
}

func TestBlocks_UnterminatedAfterCompleteBlock(t *testing.T) {
	reply := "```python\nprint('ok')\n```\n```python\nprint('dangling')"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "print('ok')\n", blocks[0].Source)
}

func TestBlocks_MultipleBlocksInOrder(t *testing.T) {
	reply := "First:\n```python\na = 1\n```\nskip this:\n```js\nconsole.log(1)\n```\nthen:\n```python\nb = 2\n```"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 2)
	require.Equal(t, "a = 1\n", blocks[0].Source)
	require.Equal(t, "b = 2\n", blocks[1].Source)
	require.Less(t, blocks[0].Line, blocks[1].Line)
}

// An opening-looking fence inside a block is content; only a bare fence closes.
func TestBlocks_FenceLikeLineInsideBlockIsContent(t *testing.T) {
	reply := "```python\nprint(\"```python is a fence marker\")\ns = '''\n```\n"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "print(\"```python is a fence marker\")\ns = '''\n", blocks[0].Source)
}

func TestBlocks_IndentedFenceRecognized(t *testing.T) {
	reply := "   ```python\n   print(1)\n   ```"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	// Content is kept verbatim, indentation included.
	require.Equal(t, "   print(1)\n", blocks[0].Source)
}

func TestBlocks_FourSpaceIndentIsNotAFence(t *testing.T) {
	reply := "    ```python\n    print(1)\n    ```"
	require.Empty(t, Blocks(reply, "python"))
}

func TestBlocks_EmptyBlock(t *testing.T) {
	blocks := Blocks("```python\n```", "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "", blocks[0].Source)
}

func TestBlocks_InfoStringWithExtraWords(t *testing.T) {
	reply := "```python title=example.py\nprint(1)\n```"
	blocks := Blocks(reply, "python")
	require.Len(t, blocks, 1)
	require.Equal(t, "python", blocks[0].Lang)
}

func TestFirst(t *testing.T) {
	require.Equal(t, "a = 1\n", First("```python\na = 1\n```\n```python\nb = 2\n```", "python"))
	require.Equal(t, "", First("no code", "python"))
}
