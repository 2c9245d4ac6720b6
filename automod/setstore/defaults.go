package setstore

const (
	// link-shortener hosts, which hide the real destination of a link
	SetShortenerHosts = "link-shortener-hosts"
	// anonymous file-sharing and paste hosts
	SetRiskyHosts = "risky-file-hosts"
	// top-level domains historically correlated with abuse (no leading dot)
	SetRiskyTLDs = "risky-tlds"
	// murmur3 hashes (see helpers.HashOfString) of known-bad media URLs
	SetMediaHashBlocklist = "media-hash-blocklist"
)

// Returns a set store pre-populated with the built-in deny-lists.
func NewDefaultSetStore() *MemSetStore {
	s := NewMemSetStore()
	s.Add(SetShortenerHosts, "bit.ly", "tinyurl.com", "t.co", "goo.gl", "is.gd", "buff.ly")
	s.Add(SetRiskyHosts, "mega.nz", "anonfiles.com", "pastebin.com", "privfile.com")
	s.Add(SetRiskyTLDs, "ru", "su", "xyz")
	s.Add(SetMediaHashBlocklist)
	return s
}
