package envutil

import (
	"testing"
	"time"
)

func TestDurationAcceptsGoSyntaxAndSeconds(t *testing.T) {
	t.Setenv("CB_TEST_DUR", "45s")
	if got := Duration("CB_TEST_DUR", time.Minute); got != 45*time.Second {
		t.Fatalf("duration: want=45s got=%s", got)
	}
	t.Setenv("CB_TEST_DUR", "90")
	if got := Duration("CB_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("duration seconds: want=90s got=%s", got)
	}
	t.Setenv("CB_TEST_DUR", "soon")
	if got := Duration("CB_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("duration fallback: want=1m got=%s", got)
	}
}

func TestListAndBool(t *testing.T) {
	t.Setenv("CB_TEST_LIST", " a, ,b ")
	got := List("CB_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("list: got=%v", got)
	}
	t.Setenv("CB_TEST_BOOL", "off")
	if Bool("CB_TEST_BOOL", true) {
		t.Fatalf("bool: want=false")
	}
	if Int("CB_TEST_MISSING_INT", 7) != 7 {
		t.Fatalf("int default not applied")
	}
}
