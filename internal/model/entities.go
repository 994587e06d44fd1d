package model

// User is an account that can author documents and join them as a member.
type User struct {
	ID        string     `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Email     string     `json:"email" gorm:"column:email;size:320;not null;index"`
	Password  string     `json:"password" gorm:"column:password;size:255;not null;default:''"`
	UserName  string     `json:"userName" gorm:"column:user_name;size:320;not null;default:''"`
	Type      UserType   `json:"type" gorm:"column:type;size:16;not null"`
	Status    UserStatus `json:"status" gorm:"column:status;size:16;not null;default:'ACTIVE'"`
	CreatedAt int64      `json:"createdAt" gorm:"column:created_at_ms;not null;default:0"`
	UpdatedAt int64      `json:"updatedAt" gorm:"column:updated_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// RecordID returns the user identifier.
func (u User) RecordID() string {
	return u.ID
}

// Field exposes the numeric user fields.
func (u User) Field(name string) (int64, bool) {
	switch name {
	case FieldCreatedAt:
		return u.CreatedAt, true
	case FieldUpdatedAt:
		return u.UpdatedAt, true
	}
	return 0, false
}

// Public returns a copy without the password hash.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Document references content held by the file collaborator.
type Document struct {
	ID        string `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	Name      string `json:"name" gorm:"column:name;size:512;not null"`
	AuthorID  string `json:"authorId" gorm:"column:author_id;size:190;not null;index"`
	URL       string `json:"url" gorm:"column:url;size:1024;not null;default:''"`
	IsPublic  bool   `json:"isPublic" gorm:"column:is_public;not null;default:false"`
	CreatedAt int64  `json:"createdAt" gorm:"column:created_at_ms;not null;default:0"`
	UpdatedAt int64  `json:"updatedAt" gorm:"column:updated_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// RecordID returns the document identifier.
func (d Document) RecordID() string {
	return d.ID
}

// Field exposes the numeric document fields.
func (d Document) Field(name string) (int64, bool) {
	switch name {
	case FieldCreatedAt:
		return d.CreatedAt, true
	case FieldUpdatedAt:
		return d.UpdatedAt, true
	}
	return 0, false
}

// Annotation is a markup payload placed on one page of a document.
type Annotation struct {
	ID         string `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	XFDF       string `json:"xfdf" gorm:"column:xfdf;type:text;not null"`
	AuthorID   string `json:"authorId" gorm:"column:author_id;size:190;not null"`
	DocumentID string `json:"documentId" gorm:"column:document_id;size:190;not null;index"`
	PageNumber int64  `json:"pageNumber" gorm:"column:page_number;not null"`
	InReplyTo  string `json:"inReplyTo,omitempty" gorm:"column:in_reply_to;size:190;not null;default:''"`
	CreatedAt  int64  `json:"createdAt" gorm:"column:created_at_ms;not null;default:0"`
	UpdatedAt  int64  `json:"updatedAt" gorm:"column:updated_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// RecordID returns the annotation identifier.
func (a Annotation) RecordID() string {
	return a.ID
}

// Field exposes the numeric annotation fields.
func (a Annotation) Field(name string) (int64, bool) {
	switch name {
	case FieldCreatedAt:
		return a.CreatedAt, true
	case FieldUpdatedAt:
		return a.UpdatedAt, true
	case FieldPageNumber:
		return a.PageNumber, true
	}
	return 0, false
}

// DocumentMember grants a non-author user access to a document.
type DocumentMember struct {
	ID         string `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID string `json:"documentId" gorm:"column:document_id;size:190;not null;index:idx_document_members_pair,priority:1"`
	UserID     string `json:"userId" gorm:"column:user_id;size:190;not null;index:idx_document_members_pair,priority:2"`
	LastRead   int64  `json:"lastRead" gorm:"column:last_read_ms;not null;default:0"`
	CreatedAt  int64  `json:"createdAt" gorm:"column:created_at_ms;not null;default:0"`
	UpdatedAt  int64  `json:"updatedAt" gorm:"column:updated_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentMember) TableName() string {
	return "document_members"
}

// RecordID returns the membership identifier.
func (m DocumentMember) RecordID() string {
	return m.ID
}

// Field exposes the numeric membership fields.
func (m DocumentMember) Field(name string) (int64, bool) {
	switch name {
	case FieldCreatedAt:
		return m.CreatedAt, true
	case FieldUpdatedAt:
		return m.UpdatedAt, true
	case FieldLastRead:
		return m.LastRead, true
	}
	return 0, false
}

// AnnotationMember tracks a user's read state for one annotation.
type AnnotationMember struct {
	ID           string `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID   string `json:"documentId" gorm:"column:document_id;size:190;not null;index"`
	AnnotationID string `json:"annotationId" gorm:"column:annotation_id;size:190;not null;index"`
	UserID       string `json:"userId" gorm:"column:user_id;size:190;not null"`
	LastRead     int64  `json:"lastRead" gorm:"column:last_read_ms;not null;default:0"`
	CreatedAt    int64  `json:"createdAt" gorm:"column:created_at_ms;not null;default:0"`
	UpdatedAt    int64  `json:"updatedAt" gorm:"column:updated_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (AnnotationMember) TableName() string {
	return "annotation_members"
}

// RecordID returns the membership identifier.
func (m AnnotationMember) RecordID() string {
	return m.ID
}

// Field exposes the numeric membership fields.
func (m AnnotationMember) Field(name string) (int64, bool) {
	switch name {
	case FieldCreatedAt:
		return m.CreatedAt, true
	case FieldUpdatedAt:
		return m.UpdatedAt, true
	case FieldLastRead:
		return m.LastRead, true
	}
	return 0, false
}
