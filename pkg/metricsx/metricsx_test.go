package metricsx

import "testing"

func TestSplitName(t *testing.T) {
	for _, c := range [][3]string{
		{`test`, `test`, ``},
		{`test{}`, `test`, ``},
		{`test{test=""}`, `test`, `test=""`},
		{`test{test="{}"}`, `test`, `test="{}"`},
		{``, ``, ``},
		{`test{`, `test{`, ``},
		{`test}`, `test}`, ``},
	} {
		name, xbase, xarg := c[0], c[1], c[2]
		if base, arg := splitName(name); base != xbase || arg != xarg {
			t.Errorf("split %#q: expected (%#q, %#q), got (%#q, %#q)", name, xbase, xarg, base, arg)
		}
	}
}

func TestFormatName(t *testing.T) {
	for _, c := range [][]string{
		{`test{}`, `test`, ``},
		{`test{a="1"}`, `test`, `a="1"`},
		{`test{a="1",b="2"}`, `test`, `a="1"`, `b`, `2`},
	} {
		exp, base, arg, args := c[0], c[1], c[2], c[3:]
		if act := formatName(base, arg, args...); act != exp {
			t.Errorf("format (%#q, %#q, %#q): expected %#q, got %#q", base, arg, args, exp, act)
		}
	}
}

func TestWithLabel(t *testing.T) {
	got := WithLabel(`adbkit_bridge_opens_total{result="ok"}`, "service", "shell")
	want := `adbkit_bridge_opens_total{result="ok",service="shell"}`
	if got != want {
		t.Errorf("WithLabel = %q, want %q", got, want)
	}
}
