package cloud

import "encoding/json"

// State maps brand key to its used-media lists. The lists are
// append-only: once a key is recorded it never leaves rotation's dedup
// set (operators clear the blob to reset a brand).
type State map[string]*BrandState

type BrandState struct {
	Posts   []string `json:"posts"`
	Stories []string `json:"stories"`
}

func ParseState(b []byte) (State, error) {
	if len(b) == 0 {
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	if st == nil {
		st = State{}
	}
	return st, nil
}

func (s State) brand(key string) *BrandState {
	bs, ok := s[key]
	if !ok || bs == nil {
		bs = &BrandState{}
		s[key] = bs
	}
	return bs
}

// UsedSet returns the used-key set of a brand for posts or stories.
func (s State) UsedSet(brand string, story bool) map[string]struct{} {
	bs, ok := s[brand]
	if !ok || bs == nil {
		return map[string]struct{}{}
	}
	list := bs.Posts
	if story {
		list = bs.Stories
	}
	out := make(map[string]struct{}, len(list))
	for _, k := range list {
		out[k] = struct{}{}
	}
	return out
}

// MarkUsed appends key to the brand's used list.
func (s State) MarkUsed(brand, key string, story bool) {
	bs := s.brand(brand)
	if story {
		bs.Stories = append(bs.Stories, key)
	} else {
		bs.Posts = append(bs.Posts, key)
	}
}
