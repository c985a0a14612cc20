package kernel

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

// ClientID identifies an OAuth2 client registered with the authorization server.
type ClientID string

func NewClientID(id string) ClientID { return ClientID(id) }
func (c ClientID) String() string    { return string(c) }
func (c ClientID) IsEmpty() bool     { return string(c) == "" }

// APIKeyID identifies an API key row, independent of the key material itself.
type APIKeyID string

func NewAPIKeyID(id string) APIKeyID { return APIKeyID(id) }
func (k APIKeyID) String() string    { return string(k) }
func (k APIKeyID) IsEmpty() bool     { return string(k) == "" }
