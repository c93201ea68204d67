package names

import "testing"

func TestSafeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Cloud Computing", "Cloud-Computing"},
		{"IoT  Analytics, Security & Privacy", "IoT-Analytics--Security---Privacy"},
		{"  spaced   out  ", "spaced-out"},
		{"---", ""},
		{"already-safe", "already-safe"},
	}
	for _, c := range cases {
		if got := SafeTitle(c.in); got != c.want {
			t.Errorf("SafeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSafeFileSegment(t *testing.T) {
	t.Run("replaces specials with underscores", func(t *testing.T) {
		if got := SafeFileSegment("Kafka: Streams & Topics", 80); got != "Kafka__Streams___Topics" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("joins whitespace runs", func(t *testing.T) {
		if got := SafeFileSegment("a  b\tc", 80); got != "a_b_c" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("truncates to max", func(t *testing.T) {
		if got := SafeFileSegment("abcdefgh", 4); got != "abcd" {
			t.Errorf("got %q", got)
		}
	})
}

func TestUnitTitle(t *testing.T) {
	cases := []struct {
		name string
		n    int
		want string
	}{
		{"Unit 1: Introduction", 1, "Introduction"},
		{"IoT  Analytics, Security & Privacy:", 2, "IoT-Analytics--Security---Privacy"},
		{"Plain Title", 3, "Plain-Title"},
		{"::", 4, "Unit-4"},
	}
	for _, c := range cases {
		if got := UnitTitle(c.name, c.n); got != c.want {
			t.Errorf("UnitTitle(%q, %d) = %q, want %q", c.name, c.n, got, c.want)
		}
	}
}

func TestCoursePrefix(t *testing.T) {
	got := CoursePrefix("UE22CS343BB3", "UE22CS343BB3 - Cloud Computing")
	want := "UE22CS343BB3-Cloud-Computing"
	if got != want {
		t.Errorf("CoursePrefix = %q, want %q", got, want)
	}
}

func TestClassFileName(t *testing.T) {
	if got := ClassFileName(5, "5. Kafka Basics", "pdf"); got != "05_Kafka_Basics.pdf" {
		t.Errorf("got %q", got)
	}
	if got := ClassFileName(12, "Queues", "pptx"); got != "12_Queues.pptx" {
		t.Errorf("got %q", got)
	}
}

func TestLinkFileName(t *testing.T) {
	got := LinkFileName(5, "5. Kafka Basics", "Slides (v2)", "pdf")
	want := "05_Kafka_Basics_Slides__v2_.pdf"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Empty link text falls back to the plain class filename.
	if got := LinkFileName(5, "Kafka", "", "pdf"); got != "05_Kafka.pdf" {
		t.Errorf("got %q", got)
	}
}
