package inference

// NumClasses is the width of the classifier head.
const NumClasses = 6

var labels = [NumClasses]string{
	"No hemorrhage",
	"Epidural",
	"Intraparenchymal",
	"Intraventricular",
	"Subarachnoid",
	"Subdural",
}

// Labels returns the class names in head order.
func Labels() []string {
	out := make([]string, NumClasses)
	copy(out, labels[:])
	return out
}

// Label maps a class index to its name.
func Label(index int) (string, bool) {
	if index < 0 || index >= NumClasses {
		return "", false
	}
	return labels[index], true
}
