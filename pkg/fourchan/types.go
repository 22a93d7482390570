package fourchan

import "encoding/json"

// Thread is a single entry in a board's thread index. It is never
// persisted; it is rebuilt from scratch on every index fetch.
type Thread struct {
	No           uint64 `json:"no"`
	LastModified int64  `json:"last_modified"`

	// Page and BumpIndex are not part of the wire payload; the fetcher
	// annotates them after flattening the paginated threads.json response.
	Page      int `json:"-"`
	BumpIndex int `json:"-"`
}

// OpData holds the OP-only flags embedded in a thread's first post.
type OpData struct {
	Sticky     numBool `json:"sticky,omitempty"`
	Closed     numBool `json:"closed,omitempty"`
	Archived   numBool `json:"archived,omitempty"`
	ArchivedOn int64   `json:"archived_on,omitempty"`
}

// Image is the set of post fields describing an attached media file.
// Present only on posts that have an attachment.
type Image struct {
	Filename       string  `json:"filename"`
	Ext            string  `json:"ext"`
	TimeMillis     int64   `json:"tim"`
	Filesize       int64   `json:"fsize"`
	MD5            string  `json:"md5"`
	ImageWidth     int     `json:"w"`
	ImageHeight    int     `json:"h"`
	ThumbnailWidth int     `json:"tn_w"`
	ThumbnailHeight int    `json:"tn_h"`
	Spoiler        numBool `json:"spoiler,omitempty"`
}

// Post is a single post in a thread, as returned by the thread.json
// endpoint. ReplyTo == 0 identifies the OP.
type Post struct {
	No      uint64 `json:"no"`
	ReplyTo uint64 `json:"resto"`
	Time    int64  `json:"time"`

	Name    string `json:"name,omitempty"`
	Trip    string `json:"trip,omitempty"`
	ID      string `json:"id,omitempty"`
	Capcode string `json:"capcode,omitempty"`
	Country string `json:"country,omitempty"`
	Subject string `json:"sub,omitempty"`
	Comment string `json:"com,omitempty"`

	OpData

	Image *Image `json:"-"`
}

// IsOp reports whether this post is the thread's originating post.
func (p Post) IsOp() bool { return p.ReplyTo == 0 }

// Equal reports whether two OpData values carry the same flags, used by
// ThreadUpdater to detect OP metadata changes between successive fetches.
func (o OpData) Equal(other OpData) bool {
	return o.Sticky == other.Sticky &&
		o.Closed == other.Closed &&
		o.Archived == other.Archived &&
		o.ArchivedOn == other.ArchivedOn
}

// postWire is the on-the-wire shape: OpData and Image fields are flattened
// into the post object by the remote API, so we decode into a flat struct
// and then split it into Post.OpData / Post.Image.
type postWire struct {
	No      uint64  `json:"no"`
	ReplyTo uint64  `json:"resto"`
	Time    int64   `json:"time"`
	Name    string  `json:"name,omitempty"`
	Trip    string  `json:"trip,omitempty"`
	ID      string  `json:"id,omitempty"`
	Capcode string  `json:"capcode,omitempty"`
	Country string  `json:"country,omitempty"`
	Subject string  `json:"sub,omitempty"`
	Comment string  `json:"com,omitempty"`
	Sticky  numBool `json:"sticky,omitempty"`
	Closed  numBool `json:"closed,omitempty"`
	Archived numBool `json:"archived,omitempty"`
	ArchivedOn int64 `json:"archived_on,omitempty"`

	Filename        string  `json:"filename,omitempty"`
	Ext             string  `json:"ext,omitempty"`
	TimeMillis      int64   `json:"tim,omitempty"`
	Filesize        int64   `json:"fsize,omitempty"`
	MD5             string  `json:"md5,omitempty"`
	ImageWidth      int     `json:"w,omitempty"`
	ImageHeight     int     `json:"h,omitempty"`
	ThumbnailWidth  int     `json:"tn_w,omitempty"`
	ThumbnailHeight int     `json:"tn_h,omitempty"`
	Spoiler         numBool `json:"spoiler,omitempty"`
}

// UnmarshalJSON splits the flattened wire representation into Post's
// OpData and optional Image.
func (p *Post) UnmarshalJSON(data []byte) error {
	var w postWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	p.No = w.No
	p.ReplyTo = w.ReplyTo
	p.Time = w.Time
	p.Name = w.Name
	p.Trip = w.Trip
	p.ID = w.ID
	p.Capcode = w.Capcode
	p.Country = w.Country
	p.Subject = w.Subject
	p.Comment = w.Comment
	p.OpData = OpData{
		Sticky:     w.Sticky,
		Closed:     w.Closed,
		Archived:   w.Archived,
		ArchivedOn: w.ArchivedOn,
	}

	if w.Filename != "" {
		p.Image = &Image{
			Filename:        w.Filename,
			Ext:             w.Ext,
			TimeMillis:      w.TimeMillis,
			Filesize:        w.Filesize,
			MD5:             w.MD5,
			ImageWidth:      w.ImageWidth,
			ImageHeight:     w.ImageHeight,
			ThumbnailWidth:  w.ThumbnailWidth,
			ThumbnailHeight: w.ThumbnailHeight,
			Spoiler:         w.Spoiler,
		}
	}

	return nil
}

// threadListPage mirrors one element of the threads.json array response.
type threadListPage struct {
	Page    int      `json:"page"`
	Threads []Thread `json:"threads"`
}

// threadBody mirrors the thread/<no>.json response shape.
type threadBody struct {
	Posts []Post `json:"posts"`
}

// DecodeThreadList flattens a threads.json response into a single slice of
// Thread, annotating Page and a 0-based BumpIndex (position across all
// pages, in remote order: 0 = top/most recently bumped).
func DecodeThreadList(data []byte) ([]Thread, error) {
	var pages []threadListPage
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, err
	}

	var out []Thread
	bumpIndex := 0
	for _, page := range pages {
		for _, t := range page.Threads {
			t.Page = page.Page
			t.BumpIndex = bumpIndex
			out = append(out, t)
			bumpIndex++
		}
	}
	return out, nil
}

// DecodeArchive decodes an archive.json response: a flat array of thread
// numbers.
func DecodeArchive(data []byte) ([]uint64, error) {
	var nums []uint64
	if err := json.Unmarshal(data, &nums); err != nil {
		return nil, err
	}
	return nums, nil
}

// DecodeThread decodes a thread/<no>.json response's post list.
func DecodeThread(data []byte) ([]Post, error) {
	var body threadBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return body.Posts, nil
}
