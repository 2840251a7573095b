package reddit

// BuildComment converts a raw comment and its replies into a Comment at depth.
// It reports false for things without a comment payload and for comments by
// DeletedAuthor; the replies of a dropped comment are never visited.
func BuildComment(thing CommentThing, depth int) (Comment, bool) {
	if thing.Data == nil || (thing.Kind != "" && thing.Kind != "t1") {
		return Comment{}, false
	}
	raw := thing.Data
	if raw.Author == DeletedAuthor {
		return Comment{}, false
	}

	node := Comment{
		ID:         raw.ID,
		Author:     raw.Author,
		Body:       raw.Body,
		Score:      raw.Score,
		CreatedUTC: raw.CreatedUTC,
		Depth:      depth,
		Replies:    BuildComments(raw.Replies.Children, depth+1),
	}
	if raw.BodyHTML != nil {
		node.BodyHTML = *raw.BodyHTML
	}
	return node, true
}

// BuildComments builds every thing at depth and keeps the ones that survive,
// in upstream order.
func BuildComments(things []CommentThing, depth int) []Comment {
	out := make([]Comment, 0, len(things))
	for _, thing := range things {
		if node, ok := BuildComment(thing, depth); ok {
			out = append(out, node)
		}
	}
	return out
}
