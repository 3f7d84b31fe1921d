package presence

import "hash/fnv"

// Display colors are a pure function of the user id: the same user keeps
// the same color across reconnects without any shared palette state.
var palette = []string{
	"#e53935", // red
	"#8e24aa", // purple
	"#3949ab", // indigo
	"#1e88e5", // blue
	"#00897b", // teal
	"#43a047", // green
	"#f4511e", // deep orange
	"#6d4c41", // brown
	"#546e7a", // blue grey
	"#d81b60", // pink
}

func colorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
