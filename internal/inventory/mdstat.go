package inventory

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// test seam
var mdstatPath = "/proc/mdstat"

func readMdstat() []byte {
	b, err := os.ReadFile(mdstatPath)
	if err != nil {
		return nil
	}
	return b
}

var mdMemberRe = regexp.MustCompile(`^(\S+?)\[\d+\](\([FS]\))?$`)

// parseMdstat extracts arrays from /proc/mdstat content:
//
//	md0 : active raid1 sdb[0] sdc[1]
func parseMdstat(b []byte) []Array {
	arrays := []Array{}
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "md") {
			continue
		}
		parts := strings.Fields(line)
		// md0 : active raid1 sdb[0] sdc[1]
		if len(parts) < 4 || parts[1] != ":" {
			continue
		}
		arr := Array{
			Name:  parts[0],
			Path:  "/dev/" + parts[0],
			State: parts[2],
			Level: parts[3],
		}
		for _, p := range parts[4:] {
			if m := mdMemberRe.FindStringSubmatch(p); m != nil {
				arr.Members = append(arr.Members, m[1])
			}
		}
		arrays = append(arrays, arr)
	}
	return arrays
}

func memberSet(arrays []Array) map[string]bool {
	out := map[string]bool{}
	for _, a := range arrays {
		for _, m := range a.Members {
			out[m] = true
		}
	}
	return out
}

// Arrays lists active md arrays from /proc/mdstat.
func Arrays() []Array {
	return parseMdstat(readMdstat())
}

// sysBcacheBacking reports whether /sys/block/<name>/bcache exists, i.e.
// the device is an attached bcache backing device.
func sysBcacheBacking(name string) bool {
	if strings.ContainsAny(name, "/ \t") {
		return false
	}
	_, err := os.Stat(sysBlockDir + "/" + name + "/bcache")
	return err == nil
}

// test seam
var sysBlockDir = "/sys/block"
