package repl

import "github.com/mattn/go-runewidth"

// padCell truncates s to width terminal cells and pads it to exactly that
// width, so CJK titles keep table columns aligned.
// padCell 按终端显示列数截断并补齐，保证含宽字符的标题对齐。
func padCell(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}
